package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/Veraticus/spice-rules/internal/storage"
	"github.com/Veraticus/spice-rules/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnhancer(t *testing.T) (*Enhancer, *storage.SQLiteStorage) {
	t.Helper()
	store := testutil.SetupTestDB(t).Storage
	return New(store, store, Config{Workers: 4}), store
}

func seedTransactions(t *testing.T, store *storage.SQLiteStorage, descs ...string) []model.Transaction {
	t.Helper()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	txns := make([]model.Transaction, len(descs))
	for i, d := range descs {
		txns[i] = model.Transaction{
			ID:          fmt.Sprintf("txn-%03d", i+1),
			Date:        base.AddDate(0, 0, i),
			Description: d,
			Amount:      15.99,
			AccountID:   "checking",
		}
	}
	_, err := store.SaveTransactions(context.Background(), txns)
	require.NoError(t, err)
	return fetchAll(t, store)
}

func fetchAll(t *testing.T, store *storage.SQLiteStorage) []model.Transaction {
	t.Helper()
	txns, err := store.Fetch(context.Background(), service.TransactionFilter{})
	require.NoError(t, err)
	return txns
}

func mustCategory(t *testing.T, store *storage.SQLiteStorage, name string) int64 {
	t.Helper()
	cat, err := store.CreateCategory(context.Background(), name)
	require.NoError(t, err)
	return cat.ID
}

func TestCategorize_SpecificityScenario(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	entertainment := mustCategory(t, store, "Entertainment")
	streaming := mustCategory(t, store, "Streaming")

	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "NETFLIX", MatchType: model.MatchContains, CategoryID: &entertainment}))
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "Netflix.com", MatchType: model.MatchExact, CategoryID: &streaming}))

	txns := seedTransactions(t, store, "NETFLIX.COM")
	matcher, err := e.Snapshot(ctx)
	require.NoError(t, err)

	res := e.Categorize(ctx, matcher, txns[0])
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeMatched, res.Outcome)

	got, err := store.GetTransaction(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRuleMatched, got.Status)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, streaming, *got.CategoryID)

	cat, err := store.GetCategory(ctx, *got.CategoryID)
	require.NoError(t, err)
	assert.Equal(t, "Streaming", cat.Name)
}

func TestCategorize_Outcomes(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	food := mustCategory(t, store, "Food")
	rule := &model.EnhancementRule{Pattern: "deli", MatchType: model.MatchContains, CategoryID: &food}
	require.NoError(t, e.CreateRule(ctx, rule))
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "bakery", MatchType: model.MatchContains}))

	txns := seedTransactions(t, store, "CORNER DELI #12", "BAKERY ON MAIN", "GAS STATION", "DELI EXPRESS")
	require.NoError(t, e.SetManualCategory(ctx, "txn-004", food, nil))
	txns = fetchAll(t, store)

	matcher, err := e.Snapshot(ctx)
	require.NoError(t, err)

	want := map[string]Outcome{
		"txn-001": OutcomeMatched,
		"txn-002": OutcomeUnmatched, // unconfigured rule never wins
		"txn-003": OutcomeUnmatched,
		"txn-004": OutcomeSkipped,
	}
	for _, txn := range txns {
		res := e.Categorize(ctx, matcher, txn)
		assert.Equal(t, want[txn.ID], res.Outcome, txn.ID)
	}

	// A second pass over fresh state changes nothing.
	for _, txn := range fetchAll(t, store) {
		res := e.Categorize(ctx, matcher, txn)
		assert.NotEqual(t, OutcomeMatched, res.Outcome, txn.ID)
	}

	stored, err := store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.UsageCount)
}

func TestCategorize_CategoryDeletedMidFlight(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	gym := mustCategory(t, store, "Gym")
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "planet fitness", MatchType: model.MatchContains, CategoryID: &gym}))
	txns := seedTransactions(t, store, "PLANET FITNESS 0042")

	matcher, err := e.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, store.DeleteCategory(ctx, gym))

	res := e.Categorize(ctx, matcher, txns[0])
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, common.ErrCategoryDeleted)

	got, err := store.GetTransaction(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Nil(t, got.CategoryID)

	// Failed transactions are left alone until acknowledged.
	res = e.Categorize(ctx, matcher, *got)
	assert.Equal(t, OutcomeSkipped, res.Outcome)

	require.NoError(t, e.AcknowledgeFailure(ctx, txns[0].ID))
	got, err = store.GetTransaction(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUncategorized, got.Status)
}

func TestCategorizeAll_Deterministic(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	a := mustCategory(t, store, "A")
	b := mustCategory(t, store, "B")
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "shop", MatchType: model.MatchContains, CategoryID: &a}))
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: `^shop\s+\d+`, MatchType: model.MatchRegex, CategoryID: &b}))

	descs := make([]string, 40)
	for i := range descs {
		descs[i] = fmt.Sprintf("SHOP %d", i)
	}
	txns := seedTransactions(t, store, descs...)

	matcher, err := e.Snapshot(ctx)
	require.NoError(t, err)
	first, err := e.CategorizeAll(ctx, matcher, txns)
	require.NoError(t, err)

	for _, r := range first {
		assert.Equal(t, OutcomeMatched, r.Outcome)
		require.NotNil(t, r.CategoryID)
		assert.Equal(t, a, *r.CategoryID)
	}
}

func TestPreview(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	food := mustCategory(t, store, "Food")
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "deli", MatchType: model.MatchContains, CategoryID: &food}))
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "deli", MatchType: model.MatchRegex}))
	txns := seedTransactions(t, store, "CORNER DELI")

	preview, err := e.Preview(ctx, txns[0])
	require.NoError(t, err)
	assert.True(t, preview.Matched)
	assert.Equal(t, "deli", preview.RulePattern)
	assert.Equal(t, food, *preview.CategoryID)
	assert.Len(t, preview.Candidates, 2)

	got, err := store.GetTransaction(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUncategorized, got.Status)

	preview, err = e.Preview(ctx, model.Transaction{Description: "nothing here", Date: time.Now()})
	require.NoError(t, err)
	assert.False(t, preview.Matched)
	assert.Nil(t, preview.RuleID)
}

func TestApplyRule_Idempotent(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	streaming := mustCategory(t, store, "Streaming")
	seedTransactions(t, store, "HULU 1", "HULU 2", "HULU 3", "OTHER")

	rule := &model.EnhancementRule{Pattern: "hulu", MatchType: model.MatchContains, CategoryID: &streaming}
	require.NoError(t, e.CreateRule(ctx, rule))

	result, err := e.ApplyRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.UpdatedCount)
	assert.Zero(t, result.FailedCount)

	result, err = e.ApplyRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Zero(t, result.UpdatedCount)

	unconfigured := &model.EnhancementRule{Pattern: "other", MatchType: model.MatchContains}
	require.NoError(t, e.CreateRule(ctx, unconfigured))
	_, err = e.ApplyRule(ctx, unconfigured.ID)
	assert.ErrorIs(t, err, common.ErrInvalidRule)

	_, err = e.ApplyRule(ctx, 999)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReplaceCategory_Twice(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	from := mustCategory(t, store, "Old")
	to := mustCategory(t, store, "New")
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "cafe", MatchType: model.MatchContains, CategoryID: &from}))
	seedTransactions(t, store, "CAFE A", "CAFE B")
	_, err := e.Recategorize(ctx, service.TransactionFilter{})
	require.NoError(t, err)

	result, err := e.ReplaceCategory(ctx, from, to, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.UpdatedCount)

	result, err = e.ReplaceCategory(ctx, from, to, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, result.UpdatedCount)
}

func TestReplaceCategory_SurvivesRecategorize(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	from := mustCategory(t, store, "Old")
	to := mustCategory(t, store, "New")
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "cafe", MatchType: model.MatchContains, CategoryID: &from}))
	seedTransactions(t, store, "CAFE A", "CAFE B")
	_, err := e.Recategorize(ctx, service.TransactionFilter{})
	require.NoError(t, err)

	_, err = e.ReplaceCategory(ctx, from, to, service.TransactionFilter{})
	require.NoError(t, err)

	summary, err := e.Recategorize(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, summary.Matched)

	txns, err := store.Fetch(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txns, 2)
	for _, txn := range txns {
		require.NotNil(t, txn.CategoryID, txn.ID)
		assert.Equal(t, to, *txn.CategoryID, txn.ID)
		assert.Equal(t, model.StatusManual, txn.Status, txn.ID)
		assert.Nil(t, txn.MatchedRuleID, txn.ID)
	}
}

func TestSummary_SkipsUnfilledResults(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	food := mustCategory(t, store, "Food")
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "deli", MatchType: model.MatchContains, CategoryID: &food}))
	txns := seedTransactions(t, store, "DELI 1", "DELI 2")

	matcher, err := e.Snapshot(ctx)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	results, err := e.CategorizeAll(cancelled, matcher, txns)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)

	var summary Summary
	for _, r := range results {
		summary.Add(r)
	}
	assert.Equal(t, Summary{}, summary)

	summary.Add(Result{TransactionID: "txn-001", Outcome: OutcomeUnmatched})
	assert.Equal(t, Summary{Processed: 1, Unmatched: 1}, summary)
}

func TestRecategorize_Summary(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	food := mustCategory(t, store, "Food")
	require.NoError(t, e.CreateRule(ctx, &model.EnhancementRule{Pattern: "deli", MatchType: model.MatchContains, CategoryID: &food}))
	seedTransactions(t, store, "DELI 1", "DELI 2", "TAXI")

	summary, err := e.Recategorize(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 3, Matched: 2, Unmatched: 1}, summary)

	summary, err = e.Recategorize(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 3, Unchanged: 2, Unmatched: 1}, summary)
}

func TestCountMatching(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	seedTransactions(t, store, "UBER TRIP", "UBER EATS", "LYFT")

	n, err := e.CountMatching(ctx, model.EnhancementRule{Pattern: "Uber", MatchType: model.MatchContains}, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.CountMatching(ctx, model.EnhancementRule{Pattern: "uber eats", MatchType: model.MatchExact}, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.CountMatching(ctx, model.EnhancementRule{Pattern: "(uber", MatchType: model.MatchRegex}, service.TransactionFilter{})
	assert.ErrorIs(t, err, common.ErrInvalidPattern)
}

func TestRuleLifecycle_InvalidRegex(t *testing.T) {
	e, store := newTestEnhancer(t)
	ctx := context.Background()

	cat := mustCategory(t, store, "Misc")
	rule := &model.EnhancementRule{Pattern: "([a-z", MatchType: model.MatchRegex, CategoryID: &cat}
	require.NoError(t, e.CreateRule(ctx, rule))
	assert.True(t, rule.Invalid)
	assert.NotEmpty(t, rule.InvalidReason)

	invalid, err := e.ListInvalid(ctx)
	require.NoError(t, err)
	require.Len(t, invalid, 1)
	assert.Equal(t, rule.ID, invalid[0].ID)

	rule.Pattern = "[a-z]+"
	require.NoError(t, e.UpdateRule(ctx, rule))
	assert.False(t, rule.Invalid)

	invalid, err = e.ListInvalid(ctx)
	require.NoError(t, err)
	assert.Empty(t, invalid)

	require.NoError(t, e.DeleteRule(ctx, rule.ID))
	assert.ErrorIs(t, e.DeleteRule(ctx, rule.ID), common.ErrNotFound)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "matched", OutcomeMatched.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
