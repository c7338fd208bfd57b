package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveTransactions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txns := createTestTransactions(3, "NETFLIX.COM 4411")
	n, err := store.SaveTransactions(ctx, txns)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Same rows again are skipped by hash.
	n, err = store.SaveTransactions(ctx, createTestTransactions(3, "NETFLIX.COM 4411"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := store.GetTransaction(ctx, "txn-002")
	require.NoError(t, err)
	assert.Equal(t, "netflix com", got.NormalizedDescription)
	assert.Equal(t, model.StatusUncategorized, got.Status)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), got.Date)
	assert.Nil(t, got.CategoryID)
	assert.NotEmpty(t, got.Hash)

	_, err = store.GetTransaction(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSaveTransactions_Invalid(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.SaveTransactions(context.Background(), []model.Transaction{{ID: "x"}})
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestFetch_Filters(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cat, err := store.CreateCategory(ctx, "Food")
	require.NoError(t, err)

	_, err = store.SaveTransactions(ctx, createTestTransactions(10, "DELI"))
	require.NoError(t, err)
	require.NoError(t, store.AssignCategory(ctx, model.Assignment{TransactionID: "txn-005", CategoryID: cat.ID, RuleID: 1}))

	start := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		filter  service.TransactionFilter
		wantIDs []string
	}{
		{name: "date range inclusive", filter: service.TransactionFilter{StartDate: &start, EndDate: &end}, wantIDs: []string{"txn-003", "txn-004", "txn-005", "txn-006"}},
		{name: "category", filter: service.TransactionFilter{CategoryID: &cat.ID}, wantIDs: []string{"txn-005"}},
		{name: "categorized only", filter: service.TransactionFilter{Categorized: true}, wantIDs: []string{"txn-005"}},
		{name: "ids", filter: service.TransactionFilter{IDs: []string{"txn-009", "txn-001"}}, wantIDs: []string{"txn-001", "txn-009"}},
		{name: "status", filter: service.TransactionFilter{Statuses: []model.TransactionStatus{model.StatusRuleMatched}}, wantIDs: []string{"txn-005"}},
		{name: "limit offset", filter: service.TransactionFilter{Limit: 2, Offset: 1}, wantIDs: []string{"txn-002", "txn-003"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txns, err := store.Fetch(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, txn := range txns {
				ids = append(ids, txn.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	_, err = store.Fetch(ctx, service.TransactionFilter{StartDate: &end, EndDate: &start})
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestAssignCategory(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cat, err := store.CreateCategory(ctx, "Streaming")
	require.NoError(t, err)
	acct, err := store.CreateAccount(ctx, "Netflix Inc")
	require.NoError(t, err)
	_, err = store.SaveTransactions(ctx, createTestTransactions(3, "NETFLIX"))
	require.NoError(t, err)

	t.Run("writes category counterparty status and rule together", func(t *testing.T) {
		err := store.AssignCategory(ctx, model.Assignment{
			TransactionID: "txn-001", CategoryID: cat.ID, CounterpartyAccountID: &acct.ID, RuleID: 7,
		})
		require.NoError(t, err)

		got, err := store.GetTransaction(ctx, "txn-001")
		require.NoError(t, err)
		assert.Equal(t, model.StatusRuleMatched, got.Status)
		assert.Equal(t, cat.ID, *got.CategoryID)
		assert.Equal(t, acct.ID, *got.CounterpartyAccountID)
		assert.Equal(t, int64(7), *got.MatchedRuleID)
	})

	t.Run("deleted category writes nothing", func(t *testing.T) {
		gone, err := store.CreateCategory(ctx, "Gone")
		require.NoError(t, err)
		require.NoError(t, store.DeleteCategory(ctx, gone.ID))

		err = store.AssignCategory(ctx, model.Assignment{TransactionID: "txn-002", CategoryID: gone.ID, RuleID: 1})
		assert.ErrorIs(t, err, common.ErrCategoryDeleted)

		got, err := store.GetTransaction(ctx, "txn-002")
		require.NoError(t, err)
		assert.Equal(t, model.StatusUncategorized, got.Status)
		assert.Nil(t, got.CategoryID)
	})

	t.Run("deleted counterparty writes nothing", func(t *testing.T) {
		missing := int64(999)
		err := store.AssignCategory(ctx, model.Assignment{
			TransactionID: "txn-002", CategoryID: cat.ID, CounterpartyAccountID: &missing, RuleID: 1,
		})
		assert.ErrorIs(t, err, common.ErrAccountDeleted)
	})

	t.Run("manual transactions are not reassigned", func(t *testing.T) {
		require.NoError(t, store.SetManualCategory(ctx, "txn-003", cat.ID, nil))
		err := store.AssignCategory(ctx, model.Assignment{TransactionID: "txn-003", CategoryID: cat.ID, RuleID: 1})
		assert.ErrorIs(t, err, common.ErrInvalidTransition)

		got, err := store.GetTransaction(ctx, "txn-003")
		require.NoError(t, err)
		assert.Equal(t, model.StatusManual, got.Status)
		assert.Nil(t, got.MatchedRuleID)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		err := store.AssignCategory(ctx, model.Assignment{TransactionID: "nope", CategoryID: cat.ID, RuleID: 1})
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestMarkFailedAndAcknowledge(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.SaveTransactions(ctx, createTestTransactions(1, "GYM"))
	require.NoError(t, err)

	require.NoError(t, store.MarkFailed(ctx, "txn-001"))
	got, err := store.GetTransaction(ctx, "txn-001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)

	// Failed transactions are not marked again or reassigned.
	assert.ErrorIs(t, store.MarkFailed(ctx, "txn-001"), common.ErrInvalidTransition)

	failed, err := store.Fetch(ctx, service.TransactionFilter{Statuses: []model.TransactionStatus{model.StatusFailed}})
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	require.NoError(t, store.AcknowledgeFailure(ctx, "txn-001"))
	got, err = store.GetTransaction(ctx, "txn-001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUncategorized, got.Status)

	assert.ErrorIs(t, store.AcknowledgeFailure(ctx, "txn-001"), common.ErrInvalidTransition)
}

func TestReplaceCategory(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	from, err := store.CreateCategory(ctx, "Entertainment")
	require.NoError(t, err)
	to, err := store.CreateCategory(ctx, "Streaming")
	require.NoError(t, err)

	txns := createTestTransactions(5, "NETFLIX")
	_, err = store.SaveTransactions(ctx, txns)
	require.NoError(t, err)
	for _, id := range []string{"txn-001", "txn-002", "txn-003"} {
		require.NoError(t, store.AssignCategory(ctx, model.Assignment{TransactionID: id, CategoryID: from.ID, RuleID: 1}))
	}
	require.NoError(t, store.SetManualCategory(ctx, "txn-004", from.ID, nil))

	n, err := store.ReplaceCategory(ctx, from.ID, to.ID, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = store.ReplaceCategory(ctx, from.ID, to.ID, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	moved, err := store.Fetch(ctx, service.TransactionFilter{CategoryID: &to.ID})
	require.NoError(t, err)
	assert.Len(t, moved, 4)
	for _, txn := range moved {
		assert.Equal(t, model.StatusManual, txn.Status, txn.ID)
		assert.Nil(t, txn.MatchedRuleID, txn.ID)
	}

	_, err = store.ReplaceCategory(ctx, to.ID, 12345, service.TransactionFilter{})
	assert.ErrorIs(t, err, common.ErrNotFound)

	n, err = store.ReplaceCategory(ctx, to.ID, to.ID, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}
