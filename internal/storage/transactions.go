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
	"github.com/Veraticus/spice-rules/internal/normalize"
	"github.com/Veraticus/spice-rules/internal/service"
)

const dateLayout = "2006-01-02"

const transactionColumns = `id, hash, account_id, date, description, normalized_description,
	amount, category_id, counterparty_account_id, status, matched_rule_id`

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var txn model.Transaction
	var date string
	err := row.Scan(
		&txn.ID, &txn.Hash, &txn.AccountID, &date, &txn.Description, &txn.NormalizedDescription,
		&txn.Amount, &txn.CategoryID, &txn.CounterpartyAccountID, &txn.Status, &txn.MatchedRuleID,
	)
	if err != nil {
		return txn, err
	}
	txn.Date, err = time.Parse(dateLayout, date)
	if err != nil {
		return txn, fmt.Errorf("%w: bad date %q on transaction %s", common.ErrDatabaseCorrupted, date, txn.ID)
	}
	return txn, nil
}

// SaveTransactions stores new transactions as UNCATEGORIZED. Transactions
// whose hash is already known are skipped. It returns how many were inserted.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	for i := range transactions {
		if err := validateTransaction(&transactions[i]); err != nil {
			return 0, fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO transactions (
				id, hash, account_id, date, description, normalized_description,
				amount, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := time.Now().UTC()
		for i := range transactions {
			txn := &transactions[i]
			if txn.NormalizedDescription == "" {
				txn.NormalizedDescription = normalize.Description(txn.Description)
			}
			if txn.Hash == "" {
				txn.Hash = txn.GenerateHash()
			}
			txn.Status = model.StatusUncategorized

			result, err := stmt.ExecContext(ctx,
				txn.ID, txn.Hash, txn.AccountID, txn.Date.UTC().Format(dateLayout),
				txn.Description, txn.NormalizedDescription, txn.Amount,
				txn.Status, now, now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetTransaction retrieves a transaction by ID.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &txn, nil
}

// Fetch returns transactions matching filter ordered by date then ID.
func (s *SQLiteStorage) Fetch(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	where, args, err := transactionWhere(filter)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions` + where + ` ORDER BY date ASC, id ASC`
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txns, nil
}

func transactionWhere(filter service.TransactionFilter) (string, []any, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return "", nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, *filter.EndDate, *filter.StartDate)
	}

	var clauses []string
	var args []any

	if filter.StartDate != nil {
		clauses = append(clauses, "date >= ?")
		args = append(args, filter.StartDate.UTC().Format(dateLayout))
	}
	if filter.EndDate != nil {
		clauses = append(clauses, "date <= ?")
		args = append(args, filter.EndDate.UTC().Format(dateLayout))
	}
	if filter.CategoryID != nil {
		clauses = append(clauses, "category_id = ?")
		args = append(args, *filter.CategoryID)
	}
	if filter.Categorized {
		clauses = append(clauses, "category_id IS NOT NULL")
	}
	if filter.AccountID != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if len(filter.IDs) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}

	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// AssignCategory commits a rule assignment. Existence of the category and
// counterparty is checked in the same database transaction as the write.
func (s *SQLiteStorage) AssignCategory(ctx context.Context, a model.Assignment) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(a.TransactionID, "transactionID"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := rowExists(ctx, tx, `SELECT 1 FROM categories WHERE id = ?`, a.CategoryID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("category %d: %w", a.CategoryID, common.ErrCategoryDeleted)
		}

		if a.CounterpartyAccountID != nil {
			ok, err := rowExists(ctx, tx, `SELECT 1 FROM accounts WHERE id = ?`, *a.CounterpartyAccountID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("account %d: %w", *a.CounterpartyAccountID, common.ErrAccountDeleted)
			}
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE transactions SET
				category_id = ?, counterparty_account_id = ?, status = 'RULE_MATCHED',
				matched_rule_id = ?, updated_at = ?
			WHERE id = ? AND status IN ('UNCATEGORIZED', 'RULE_MATCHED')`,
			a.CategoryID, a.CounterpartyAccountID, a.RuleID, time.Now().UTC(), a.TransactionID)
		if err != nil {
			return fmt.Errorf("failed to assign category: %w", err)
		}
		return transitionResult(ctx, tx, result, a.TransactionID)
	})
}

// MarkFailed records that an assignment could not complete. Earlier category
// values are left as they were.
func (s *SQLiteStorage) MarkFailed(ctx context.Context, transactionID string) error {
	return s.transitionTransaction(ctx, transactionID, `
		UPDATE transactions SET status = 'FAILED', matched_rule_id = NULL, failed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('UNCATEGORIZED', 'RULE_MATCHED')`,
		time.Now().UTC(), time.Now().UTC(), transactionID)
}

// AcknowledgeFailure returns a FAILED transaction to UNCATEGORIZED.
func (s *SQLiteStorage) AcknowledgeFailure(ctx context.Context, transactionID string) error {
	return s.transitionTransaction(ctx, transactionID, `
		UPDATE transactions SET status = 'UNCATEGORIZED', failed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'FAILED'`,
		time.Now().UTC(), transactionID)
}

// SetManualCategory records a human override.
func (s *SQLiteStorage) SetManualCategory(ctx context.Context, transactionID string, categoryID int64, counterpartyAccountID *int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := rowExists(ctx, tx, `SELECT 1 FROM categories WHERE id = ?`, categoryID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("category %d: %w", categoryID, common.ErrNotFound)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE transactions SET
				category_id = ?, counterparty_account_id = ?, status = 'MANUAL',
				matched_rule_id = NULL, failed_at = NULL, updated_at = ?
			WHERE id = ?`,
			categoryID, counterpartyAccountID, time.Now().UTC(), transactionID)
		if err != nil {
			return fmt.Errorf("failed to set manual category: %w", err)
		}
		return checkAffected(result, fmt.Errorf("transaction %s: %w", transactionID, common.ErrNotFound))
	})
}

// ReplaceCategory moves transactions from one category to another in a
// single statement. A replace is a human decision, so moved rows become
// MANUAL and lose their rule link; later rule runs leave them alone.
// Re-running it changes nothing.
func (s *SQLiteStorage) ReplaceCategory(ctx context.Context, fromCategoryID, toCategoryID int64, filter service.TransactionFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if fromCategoryID == toCategoryID {
		return 0, nil
	}

	filter.CategoryID = &fromCategoryID
	filter.Categorized = false
	filter.Statuses = []model.TransactionStatus{model.StatusRuleMatched, model.StatusManual, model.StatusUncategorized}
	filter.Limit, filter.Offset = 0, 0

	where, args, err := transactionWhere(filter)
	if err != nil {
		return 0, err
	}

	var updated int
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := rowExists(ctx, tx, `SELECT 1 FROM categories WHERE id = ?`, toCategoryID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("category %d: %w", toCategoryID, common.ErrNotFound)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE transactions SET category_id = ?, status = 'MANUAL', matched_rule_id = NULL, failed_at = NULL, updated_at = ?`+where,
			append([]any{toCategoryID, time.Now().UTC()}, args...)...)
		if err != nil {
			return fmt.Errorf("failed to replace category: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		updated = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func (s *SQLiteStorage) transitionTransaction(ctx context.Context, id, query string, args ...any) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "transactionID"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		return transitionResult(ctx, tx, result, id)
	})
}

// transitionResult reports a guarded update that touched no row as
// ErrNotFound or ErrInvalidTransition.
func transitionResult(ctx context.Context, tx *sql.Tx, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read transaction status: %w", err)
	}
	return fmt.Errorf("%w: transaction %s is %s", common.ErrInvalidTransition, id, status)
}

func rowExists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}
