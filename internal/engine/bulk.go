package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/pattern"
	"github.com/Veraticus/spice-rules/internal/service"
)

var evaluableStatuses = []model.TransactionStatus{model.StatusUncategorized, model.StatusRuleMatched}

// Summary counts the outcomes of a batch of Categorize calls.
type Summary struct {
	Processed int
	Matched   int
	Unchanged int
	Unmatched int
	Skipped   int
	Failed    int
}

// Add records one result. Zero results, left behind when CategorizeAll
// stops early, are not counted.
func (s *Summary) Add(r Result) {
	if r.TransactionID == "" {
		return
	}
	s.Processed++
	switch r.Outcome {
	case OutcomeMatched:
		s.Matched++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeUnmatched:
		s.Unmatched++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
}

// CategorizeAll evaluates txns against one snapshot in parallel. Results are
// returned in input order.
func (e *Enhancer) CategorizeAll(ctx context.Context, matcher *pattern.RuleMatcher, txns []model.Transaction) ([]Result, error) {
	results := make([]Result, len(txns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range txns {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.Categorize(gctx, matcher, txns[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Recategorize re-evaluates every UNCATEGORIZED and RULE_MATCHED transaction
// matching filter against the current rules.
func (e *Enhancer) Recategorize(ctx context.Context, filter service.TransactionFilter) (Summary, error) {
	matcher, err := e.Snapshot(ctx)
	if err != nil {
		return Summary{}, err
	}

	filter.Statuses = evaluableStatuses
	txns, err := e.transactions.Fetch(ctx, filter)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	results, err := e.CategorizeAll(ctx, matcher, txns)
	var summary Summary
	for _, r := range results {
		summary.Add(r)
	}
	e.logger.Info("Recategorized transactions",
		"processed", summary.Processed,
		"matched", summary.Matched,
		"failed", summary.Failed)
	return summary, err
}

// ApplyRule applies one rule to the transactions it matches. Resolution is
// re-run for each of them, so a more preferred rule still wins. Only real
// changes are counted, making a second run report zero.
func (e *Enhancer) ApplyRule(ctx context.Context, ruleID int64) (model.BulkResult, error) {
	rule, err := e.rules.GetRule(ctx, ruleID)
	if err != nil {
		return model.BulkResult{}, err
	}
	if !rule.Configured() {
		return model.BulkResult{}, fmt.Errorf("%w: rule %d has no category", common.ErrInvalidRule, ruleID)
	}
	if rule.Invalid {
		return model.BulkResult{}, fmt.Errorf("%w: rule %d: %s", common.ErrInvalidPattern, ruleID, rule.InvalidReason)
	}

	matcher, err := e.Snapshot(ctx)
	if err != nil {
		return model.BulkResult{}, err
	}
	single := pattern.NewMatcher([]pattern.Rule{*rule}, e.cache)

	txns, err := e.transactions.Fetch(ctx, service.TransactionFilter{Statuses: evaluableStatuses})
	if err != nil {
		return model.BulkResult{}, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	var targets []model.Transaction
	for _, txn := range txns {
		if len(single.Match(txn)) > 0 {
			targets = append(targets, txn)
		}
	}

	results, err := e.CategorizeAll(ctx, matcher, targets)
	var summary Summary
	for _, r := range results {
		summary.Add(r)
	}

	return model.BulkResult{
		UpdatedCount: summary.Matched,
		FailedCount:  summary.Failed,
		Message:      fmt.Sprintf("rule %d matched %d transactions, %d updated", ruleID, len(targets), summary.Matched),
	}, err
}

// CountMatching counts transactions a rule would match. The rule need not be
// saved; it is prepared the way CreateRule would store it.
func (e *Enhancer) CountMatching(ctx context.Context, rule model.EnhancementRule, filter service.TransactionFilter) (int, error) {
	if err := pattern.Prepare(&rule); err != nil {
		return 0, err
	}
	if rule.Invalid {
		return 0, fmt.Errorf("%w: %s", common.ErrInvalidPattern, rule.InvalidReason)
	}

	// Unsaved rules have no ID, so keep them out of the shared cache.
	single := pattern.NewMatcher([]pattern.Rule{rule}, nil)

	txns, err := e.transactions.Fetch(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	count := 0
	for _, txn := range txns {
		if len(single.Match(txn)) > 0 {
			count++
		}
	}
	return count, nil
}

// ReplaceCategory moves transactions from one category to another. Running
// it twice reports zero the second time.
func (e *Enhancer) ReplaceCategory(ctx context.Context, fromCategoryID, toCategoryID int64, filter service.TransactionFilter) (model.BulkResult, error) {
	n, err := e.transactions.ReplaceCategory(ctx, fromCategoryID, toCategoryID, filter)
	if err != nil {
		return model.BulkResult{}, fmt.Errorf("failed to replace category: %w", err)
	}
	e.logger.Info("Replaced category", "from", fromCategoryID, "to", toCategoryID, "updated", n)
	return model.BulkResult{
		UpdatedCount: n,
		Message:      fmt.Sprintf("moved %d transactions", n),
	}, nil
}
