package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

const ruleColumns = `id, pattern, match_type, category_id, counterparty_account_id,
	min_amount, max_amount, valid_from, valid_to, source,
	suggestion_confidence, suggested_category_id, suggestion_status,
	usage_count, is_valid, invalid_reason, normalizer_version,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (model.EnhancementRule, error) {
	var rule model.EnhancementRule
	var valid bool
	err := row.Scan(
		&rule.ID, &rule.Pattern, &rule.MatchType, &rule.CategoryID, &rule.CounterpartyAccountID,
		&rule.MinAmount, &rule.MaxAmount, &rule.ValidFrom, &rule.ValidTo, &rule.Source,
		&rule.SuggestionConfidence, &rule.SuggestedCategoryID, &rule.SuggestionStatus,
		&rule.UsageCount, &valid, &rule.InvalidReason, &rule.NormalizerVersion,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	rule.Invalid = !valid
	return rule, err
}

// CreateRule inserts a rule that has already been prepared for storage.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.EnhancementRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO enhancement_rules (
			pattern, match_type, category_id, counterparty_account_id,
			min_amount, max_amount, valid_from, valid_to, source,
			suggestion_confidence, suggested_category_id, suggestion_status,
			usage_count, is_valid, invalid_reason, normalizer_version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		rule.Pattern, rule.MatchType, rule.CategoryID, rule.CounterpartyAccountID,
		rule.MinAmount, rule.MaxAmount, rule.ValidFrom, rule.ValidTo, rule.Source,
		rule.SuggestionConfidence, rule.SuggestedCategoryID, rule.SuggestionStatus,
		!rule.Invalid, rule.InvalidReason, rule.NormalizerVersion,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %q", common.ErrDuplicateRule, rule.MatchType, rule.Pattern)
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get rule ID: %w", err)
	}
	rule.ID = id
	rule.UsageCount = 0

	return nil
}

// GetRule retrieves a rule by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int64) (*model.EnhancementRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM enhancement_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// ListActive returns every valid rule, restricted to rules in effect at asOf
// when asOf is set.
func (s *SQLiteStorage) ListActive(ctx context.Context, asOf time.Time) ([]model.EnhancementRule, error) {
	rules, err := s.ListRules(ctx, service.RuleFilter{})
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		return rules, nil
	}

	active := rules[:0]
	for _, r := range rules {
		if r.ActiveAt(asOf) {
			active = append(active, r)
		}
	}
	return active, nil
}

// ListRules returns rules matching filter ordered by ID.
func (s *SQLiteStorage) ListRules(ctx context.Context, filter service.RuleFilter) ([]model.EnhancementRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var where []string
	var args []any

	switch {
	case filter.InvalidOnly:
		where = append(where, "is_valid = 0")
	case !filter.IncludeInvalid:
		where = append(where, "is_valid = 1")
	}
	if filter.UnconfiguredOnly {
		where = append(where, "category_id IS NULL")
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, filter.Source)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "suggestion_status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}

	query := `SELECT ` + ruleColumns + ` FROM enhancement_rules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.EnhancementRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

// UpdateRule replaces the mutable fields of a rule. Usage count and creation
// time are never touched.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, rule *model.EnhancementRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE enhancement_rules SET
			pattern = ?, match_type = ?, category_id = ?, counterparty_account_id = ?,
			min_amount = ?, max_amount = ?, valid_from = ?, valid_to = ?, source = ?,
			suggestion_confidence = ?, suggested_category_id = ?, suggestion_status = ?,
			is_valid = ?, invalid_reason = ?, normalizer_version = ?, updated_at = ?
		WHERE id = ?`,
		rule.Pattern, rule.MatchType, rule.CategoryID, rule.CounterpartyAccountID,
		rule.MinAmount, rule.MaxAmount, rule.ValidFrom, rule.ValidTo, rule.Source,
		rule.SuggestionConfidence, rule.SuggestedCategoryID, rule.SuggestionStatus,
		!rule.Invalid, rule.InvalidReason, rule.NormalizerVersion, rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %q", common.ErrDuplicateRule, rule.MatchType, rule.Pattern)
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return checkAffected(result, fmt.Errorf("rule %d: %w", rule.ID, common.ErrNotFound))
}

// DeleteRule removes a rule.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM enhancement_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return checkAffected(result, fmt.Errorf("rule %d: %w", id, common.ErrNotFound))
}

// IncrementUsage bumps a rule's usage counter in a single statement.
func (s *SQLiteStorage) IncrementUsage(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE enhancement_rules SET usage_count = usage_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment rule usage: %w", err)
	}
	return checkAffected(result, fmt.Errorf("rule %d: %w", id, common.ErrNotFound))
}

// SaveSuggestion stores a suggestion awaiting review on an unconfigured rule.
func (s *SQLiteStorage) SaveSuggestion(ctx context.Context, id, suggestedCategoryID int64, confidence float64) error {
	return s.transitionRule(ctx, id, `
		UPDATE enhancement_rules SET
			source = 'AI_SUGGESTED', suggestion_status = 'PENDING',
			suggested_category_id = ?, suggestion_confidence = ?, updated_at = ?
		WHERE id = ? AND category_id IS NULL AND suggestion_status IN ('NONE', 'PENDING')`,
		suggestedCategoryID, confidence, time.Now().UTC(), id)
}

// MarkAutoApplied configures an unconfigured rule from a confident suggestion.
func (s *SQLiteStorage) MarkAutoApplied(ctx context.Context, id, categoryID int64, confidence float64) error {
	return s.transitionRule(ctx, id, `
		UPDATE enhancement_rules SET
			category_id = ?, suggested_category_id = ?, source = 'AI_AUTO',
			suggestion_status = 'APPLIED', suggestion_confidence = ?, updated_at = ?
		WHERE id = ? AND category_id IS NULL AND suggestion_status IN ('NONE', 'PENDING')`,
		categoryID, categoryID, confidence, time.Now().UTC(), id)
}

// ApplyPendingSuggestion accepts a pending suggestion with categoryID.
func (s *SQLiteStorage) ApplyPendingSuggestion(ctx context.Context, id, categoryID int64) error {
	return s.transitionRule(ctx, id, `
		UPDATE enhancement_rules SET
			category_id = ?, suggestion_status = 'APPLIED', updated_at = ?
		WHERE id = ? AND suggestion_status = 'PENDING'`,
		categoryID, time.Now().UTC(), id)
}

// RejectSuggestion rejects a pending suggestion. The rule row is kept.
func (s *SQLiteStorage) RejectSuggestion(ctx context.Context, id int64) error {
	return s.transitionRule(ctx, id, `
		UPDATE enhancement_rules SET suggestion_status = 'REJECTED', updated_at = ?
		WHERE id = ? AND suggestion_status = 'PENDING'`,
		time.Now().UTC(), id)
}

// transitionRule runs a guarded update. A guard miss is reported as
// ErrNotFound when the rule is gone and ErrInvalidTransition otherwise.
func (s *SQLiteStorage) transitionRule(ctx context.Context, id int64, query string, args ...any) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update rule suggestion: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows > 0 {
			return nil
		}

		var status string
		err = tx.QueryRowContext(ctx, `SELECT suggestion_status FROM enhancement_rules WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read rule status: %w", err)
		}
		return fmt.Errorf("%w: rule %d is %s", common.ErrInvalidTransition, id, status)
	})
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
