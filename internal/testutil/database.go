// Package testutil sets up migrated SQLite databases for tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/Veraticus/spice-rules/internal/storage"
)

// TestDB is a migrated database scoped to one test.
type TestDB struct {
	Storage    *storage.SQLiteStorage
	t          *testing.T
	categories map[string]int64
}

// SetupTestDB creates a migrated database in the test's temp directory and
// seeds the named categories. It is closed when the test ends.
func SetupTestDB(t *testing.T, categories ...string) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	db := &TestDB{Storage: store, t: t, categories: make(map[string]int64)}
	for _, name := range categories {
		db.AddCategory(name)
	}
	return db
}

// AddCategory creates a category and returns its ID.
func (db *TestDB) AddCategory(name string) int64 {
	db.t.Helper()
	cat, err := db.Storage.CreateCategory(context.Background(), name)
	require.NoError(db.t, err)
	db.categories[name] = cat.ID
	return cat.ID
}

// Category returns the ID of a category seeded through this TestDB.
func (db *TestDB) Category(name string) int64 {
	db.t.Helper()
	id, ok := db.categories[name]
	require.True(db.t, ok, "category %q was not seeded", name)
	return id
}

// CategoryIDs returns a copy of the seeded category IDs by name.
func (db *TestDB) CategoryIDs() map[string]int64 {
	ids := make(map[string]int64, len(db.categories))
	for name, id := range db.categories {
		ids[name] = id
	}
	return ids
}

// Seed describes transactions to insert: one per description, a day apart
// from Start.
type Seed struct {
	Start     time.Time
	IDPrefix  string
	AccountID string
	Amount    float64
}

// SeedTransactions saves one transaction per description and returns every
// stored transaction.
func (db *TestDB) SeedTransactions(seed Seed, descs ...string) []model.Transaction {
	db.t.Helper()
	if seed.IDPrefix == "" {
		seed.IDPrefix = "txn-"
	}
	if seed.AccountID == "" {
		seed.AccountID = "checking"
	}

	txns := make([]model.Transaction, len(descs))
	for i, d := range descs {
		txns[i] = model.Transaction{
			ID:          fmt.Sprintf("%s%03d", seed.IDPrefix, i+1),
			Date:        seed.Start.AddDate(0, 0, i),
			Description: d,
			Amount:      seed.Amount,
			AccountID:   seed.AccountID,
		}
	}
	_, err := db.Storage.SaveTransactions(context.Background(), txns)
	require.NoError(db.t, err)
	return db.All()
}

// All returns every stored transaction.
func (db *TestDB) All() []model.Transaction {
	db.t.Helper()
	txns, err := db.Storage.Fetch(context.Background(), service.TransactionFilter{})
	require.NoError(db.t, err)
	return txns
}
