// Package pattern matches transactions against enhancement rules and resolves
// conflicts between matching rules.
package pattern

import (
	"github.com/Veraticus/spice-rules/internal/model"
)

// Matcher evaluates transactions against a fixed set of rules.
type Matcher interface {
	// Match returns every rule the transaction satisfies, most preferred first.
	Match(txn model.Transaction) []Rule
}

// Rule is an alias to the model.EnhancementRule type for convenience.
type Rule = model.EnhancementRule
