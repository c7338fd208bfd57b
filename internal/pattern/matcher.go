package pattern

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/normalize"
	"github.com/shopspring/decimal"
)

// RuleMatcher evaluates transactions against an immutable rule snapshot.
// It is safe for concurrent use.
type RuleMatcher struct {
	compiledRegex map[int64]*regexp.Regexp
	rules         []Rule
	excluded      []Rule
}

// NewMatcher creates a matcher over a snapshot of rules. REGEX rules are
// compiled through cache; a rule whose expression does not compile, or that
// is flagged invalid, is excluded from matching.
func NewMatcher(rules []Rule, cache *RegexCache) *RuleMatcher {
	if cache == nil {
		cache = NewRegexCache()
	}

	m := &RuleMatcher{
		compiledRegex: make(map[int64]*regexp.Regexp),
		rules:         make([]Rule, 0, len(rules)),
	}

	for _, rule := range rules {
		if rule.Invalid {
			m.excluded = append(m.excluded, rule)
			continue
		}

		if rule.MatchType == model.MatchRegex {
			re, err := cache.Get(rule.ID, rule.Pattern)
			if err != nil {
				slog.Warn("Excluding rule with invalid expression",
					"rule_id", rule.ID,
					"pattern", rule.Pattern,
					"error", err)
				m.excluded = append(m.excluded, rule)
				continue
			}
			m.compiledRegex[rule.ID] = re
		}

		m.rules = append(m.rules, rule)
	}

	return m
}

// Rules returns the rules taking part in matching.
func (m *RuleMatcher) Rules() []Rule {
	return m.rules
}

// Excluded returns the rules left out of matching because they are invalid.
func (m *RuleMatcher) Excluded() []Rule {
	return m.excluded
}

// Match returns every candidate rule for the transaction in resolution order.
func (m *RuleMatcher) Match(txn model.Transaction) []Rule {
	desc := txn.NormalizedDescription
	if desc == "" {
		desc = normalize.Description(txn.Description)
	}

	var matches []Rule
	for _, rule := range m.rules {
		if m.matchesRule(desc, txn, rule) {
			matches = append(matches, rule)
		}
	}

	SortCandidates(matches)
	return matches
}

func (m *RuleMatcher) matchesRule(desc string, txn model.Transaction, rule Rule) bool {
	if !m.matchesDescription(desc, rule) {
		return false
	}

	if !matchesAmount(txn.Amount, rule) {
		return false
	}

	return rule.ActiveAt(txn.Date)
}

func (m *RuleMatcher) matchesDescription(desc string, rule Rule) bool {
	switch rule.MatchType {
	case model.MatchExact:
		return rule.Pattern != "" && desc == strings.ToLower(rule.Pattern)
	case model.MatchContains:
		return rule.Pattern != "" && strings.Contains(desc, strings.ToLower(rule.Pattern))
	case model.MatchRegex:
		re, ok := m.compiledRegex[rule.ID]
		return ok && re.MatchString(desc)
	}
	return false
}

// matchesAmount checks the inclusive amount bounds at cent precision.
func matchesAmount(amount float64, rule Rule) bool {
	if rule.MinAmount == nil && rule.MaxAmount == nil {
		return true
	}

	a := decimal.NewFromFloat(amount).Round(2)
	if rule.MinAmount != nil && a.LessThan(decimal.NewFromFloat(*rule.MinAmount).Round(2)) {
		return false
	}
	if rule.MaxAmount != nil && a.GreaterThan(decimal.NewFromFloat(*rule.MaxAmount).Round(2)) {
		return false
	}
	return true
}
