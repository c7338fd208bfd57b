package engine

import (
	"context"
	"fmt"

	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/pattern"
	"github.com/Veraticus/spice-rules/internal/service"
)

// CreateRule prepares and stores a new rule. A rule whose pattern cannot
// match is still stored, flagged invalid; callers should check rule.Invalid.
func (e *Enhancer) CreateRule(ctx context.Context, rule *model.EnhancementRule) error {
	if err := pattern.Prepare(rule); err != nil {
		return err
	}
	if err := e.rules.CreateRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	if rule.Invalid {
		e.logger.Warn("Stored rule is invalid and will not match",
			"rule_id", rule.ID,
			"pattern", rule.Pattern,
			"reason", rule.InvalidReason)
	}
	return nil
}

// UpdateRule prepares and stores an edited rule, dropping any compiled
// expression cached for it.
func (e *Enhancer) UpdateRule(ctx context.Context, rule *model.EnhancementRule) error {
	if err := pattern.Prepare(rule); err != nil {
		return err
	}
	if err := e.rules.UpdateRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	e.cache.Invalidate(rule.ID)
	return nil
}

// DeleteRule removes a rule. Transactions it already categorized keep their
// category.
func (e *Enhancer) DeleteRule(ctx context.Context, id int64) error {
	if err := e.rules.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	e.cache.Invalidate(id)
	return nil
}

// ListInvalid returns rules flagged invalid so they can be fixed.
func (e *Enhancer) ListInvalid(ctx context.Context) ([]model.EnhancementRule, error) {
	return e.rules.ListRules(ctx, service.RuleFilter{InvalidOnly: true})
}
