// Package engine applies enhancement rules to transactions: it takes a rule
// snapshot, matches, resolves conflicts and commits the winning assignment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/pattern"
	"github.com/Veraticus/spice-rules/internal/service"
)

// Outcome describes what Categorize did to a transaction.
type Outcome int

// Categorize outcomes.
const (
	// OutcomeUnmatched means no configured rule matched.
	OutcomeUnmatched Outcome = iota
	// OutcomeMatched means a rule won and the assignment was written.
	OutcomeMatched
	// OutcomeUnchanged means the winning rule was already applied.
	OutcomeUnchanged
	// OutcomeSkipped means the transaction is manual or failed and was left alone.
	OutcomeSkipped
	// OutcomeFailed means the assignment could not be committed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnmatched:
		return "unmatched"
	case OutcomeMatched:
		return "matched"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the per-transaction result of Categorize.
type Result struct {
	Err           error
	RuleID        *int64
	CategoryID    *int64
	TransactionID string
	Outcome       Outcome
}

// Enhancer is the glue between the rule matcher and the repositories.
type Enhancer struct {
	transactions service.TransactionRepository
	rules        service.RuleRepository
	cache        *pattern.RegexCache
	locks        *stripedLocks
	logger       *slog.Logger
	workers      int
}

// Config holds configuration options for the enhancer.
type Config struct {
	Logger  *slog.Logger
	Workers int
}

// New creates an enhancer over the given repositories.
func New(transactions service.TransactionRepository, rules service.RuleRepository, cfg Config) *Enhancer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Enhancer{
		transactions: transactions,
		rules:        rules,
		cache:        pattern.NewRegexCache(),
		locks:        newStripedLocks(defaultStripes),
		logger:       common.LoggerOrDefault(cfg.Logger),
		workers:      cfg.Workers,
	}
}

// Snapshot reads the current rule set once and returns a matcher over it.
// Every transaction of a batch should be evaluated against the same snapshot.
func (e *Enhancer) Snapshot(ctx context.Context) (*pattern.RuleMatcher, error) {
	rules, err := e.rules.ListActive(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return pattern.NewMatcher(rules, e.cache), nil
}

// Categorize evaluates one transaction against the snapshot and commits the
// winning rule. Failures are reported in the result, never returned, so a
// batch can continue past them.
func (e *Enhancer) Categorize(ctx context.Context, matcher *pattern.RuleMatcher, txn model.Transaction) Result {
	res := Result{TransactionID: txn.ID}

	status := txn.Status
	if status == "" {
		status = model.StatusUncategorized
	}
	if !status.Evaluable() {
		res.Outcome = OutcomeSkipped
		return res
	}

	winner := pattern.Resolve(matcher.Match(txn))
	if winner == nil {
		res.Outcome = OutcomeUnmatched
		return res
	}
	res.RuleID = &winner.ID
	res.CategoryID = winner.CategoryID

	if alreadyApplied(txn, *winner) {
		res.Outcome = OutcomeUnchanged
		return res
	}

	unlock := e.locks.lock(txn.ID)
	defer unlock()

	err := e.transactions.AssignCategory(ctx, model.Assignment{
		TransactionID:         txn.ID,
		CategoryID:            *winner.CategoryID,
		CounterpartyAccountID: winner.CounterpartyAccountID,
		RuleID:                winner.ID,
	})
	switch {
	case err == nil:
	case errors.Is(err, common.ErrCategoryDeleted), errors.Is(err, common.ErrAccountDeleted):
		res.Outcome = OutcomeFailed
		res.Err = err
		if markErr := e.transactions.MarkFailed(ctx, txn.ID); markErr != nil {
			res.Err = errors.Join(err, markErr)
		}
		e.logger.Warn("Assignment target disappeared",
			"transaction_id", txn.ID,
			"rule_id", winner.ID,
			"error", err)
		return res
	case errors.Is(err, common.ErrInvalidTransition):
		// Overridden or failed since the snapshot was read.
		res.Outcome = OutcomeSkipped
		return res
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	res.Outcome = OutcomeMatched
	if err := e.rules.IncrementUsage(ctx, winner.ID); err != nil {
		e.logger.Warn("Failed to record rule usage", "rule_id", winner.ID, "error", err)
	}
	return res
}

func alreadyApplied(txn model.Transaction, winner pattern.Rule) bool {
	if txn.Status != model.StatusRuleMatched || txn.MatchedRuleID == nil || txn.CategoryID == nil {
		return false
	}
	if *txn.MatchedRuleID != winner.ID || *txn.CategoryID != *winner.CategoryID {
		return false
	}
	return equalIDs(txn.CounterpartyAccountID, winner.CounterpartyAccountID)
}

func equalIDs(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Preview reports what Categorize would do to txn without writing anything.
func (e *Enhancer) Preview(ctx context.Context, txn model.Transaction) (model.PreviewResult, error) {
	matcher, err := e.Snapshot(ctx)
	if err != nil {
		return model.PreviewResult{}, err
	}

	candidates := matcher.Match(txn)
	result := model.PreviewResult{Candidates: candidates}

	winner := pattern.Resolve(candidates)
	if winner == nil {
		return result, nil
	}

	result.Matched = true
	result.RuleID = &winner.ID
	result.RulePattern = winner.Pattern
	result.CategoryID = winner.CategoryID
	result.CounterpartyAccountID = winner.CounterpartyAccountID
	return result, nil
}

// SetManualCategory records a human override for a transaction.
func (e *Enhancer) SetManualCategory(ctx context.Context, transactionID string, categoryID int64, counterpartyAccountID *int64) error {
	unlock := e.locks.lock(transactionID)
	defer unlock()
	return e.transactions.SetManualCategory(ctx, transactionID, categoryID, counterpartyAccountID)
}

// AcknowledgeFailure returns a FAILED transaction to UNCATEGORIZED so the
// next evaluation picks it up again.
func (e *Enhancer) AcknowledgeFailure(ctx context.Context, transactionID string) error {
	unlock := e.locks.lock(transactionID)
	defer unlock()
	return e.transactions.AcknowledgeFailure(ctx, transactionID)
}
