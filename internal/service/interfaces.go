// Package service defines the collaborator contracts the enhancement engine
// depends on.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/spice-rules/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
// Zero values mean "no constraint".
type TransactionFilter struct {
	StartDate   *time.Time
	EndDate     *time.Time
	CategoryID  *int64
	AccountID   string
	IDs         []string
	Statuses    []model.TransactionStatus
	Categorized bool
	Limit       int
	Offset      int
}

// RuleFilter narrows rule listings.
type RuleFilter struct {
	Source           model.RuleSource
	Statuses         []model.SuggestionStatus
	InvalidOnly      bool
	UnconfiguredOnly bool
	IncludeInvalid   bool
}

// TransactionRepository owns transactions. The engine reads snapshots from it
// and sends assignments back; it never holds transaction state itself.
type TransactionRepository interface {
	SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	Fetch(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)

	// AssignCategory writes category, counterparty, RULE_MATCHED status and the
	// matched rule in one step. It returns common.ErrCategoryDeleted or
	// common.ErrAccountDeleted, writing nothing, when a referenced row is gone.
	AssignCategory(ctx context.Context, assignment model.Assignment) error
	MarkFailed(ctx context.Context, transactionID string) error
	SetManualCategory(ctx context.Context, transactionID string, categoryID int64, counterpartyAccountID *int64) error
	AcknowledgeFailure(ctx context.Context, transactionID string) error

	// ReplaceCategory moves every non-failed transaction matching filter from
	// one category to another and returns how many rows changed.
	ReplaceCategory(ctx context.Context, fromCategoryID, toCategoryID int64, filter TransactionFilter) (int, error)
}

// RuleRepository owns enhancement rules.
type RuleRepository interface {
	// ListActive returns valid rules. A non-zero asOf additionally restricts
	// the result to rules whose validity window covers it.
	ListActive(ctx context.Context, asOf time.Time) ([]model.EnhancementRule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]model.EnhancementRule, error)
	GetRule(ctx context.Context, id int64) (*model.EnhancementRule, error)
	CreateRule(ctx context.Context, rule *model.EnhancementRule) error
	UpdateRule(ctx context.Context, rule *model.EnhancementRule) error
	DeleteRule(ctx context.Context, id int64) error
	IncrementUsage(ctx context.Context, id int64) error

	// SaveSuggestion records a below-threshold suggestion for review.
	SaveSuggestion(ctx context.Context, id, suggestedCategoryID int64, confidence float64) error
	// MarkAutoApplied configures an unconfigured rule from a confident suggestion.
	MarkAutoApplied(ctx context.Context, id, categoryID int64, confidence float64) error
	// ApplyPendingSuggestion moves a PENDING suggestion to APPLIED with categoryID.
	ApplyPendingSuggestion(ctx context.Context, id, categoryID int64) error
	// RejectSuggestion moves a PENDING suggestion to REJECTED.
	RejectSuggestion(ctx context.Context, id int64) error
}

// CategoryRepository owns categories and counterparty accounts.
type CategoryRepository interface {
	CreateCategory(ctx context.Context, name string) (*model.Category, error)
	GetCategory(ctx context.Context, id int64) (*model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	CreateAccount(ctx context.Context, name string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
}

// Storage bundles every repository behind one persistence layer.
type Storage interface {
	TransactionRepository
	RuleRepository
	CategoryRepository

	Migrate(ctx context.Context) error
	Close() error
}

// SampleTransaction is an example of what a rule pattern matches, passed to
// suggestion providers for context.
type SampleTransaction struct {
	Date        time.Time
	Description string
	Amount      float64
}

// SuggestionRequest asks a provider to categorize one rule pattern.
type SuggestionRequest struct {
	Pattern    string
	Categories []model.Category
	Samples    []SampleTransaction
	MatchType  model.MatchType
	RuleID     int64
}

// CategorySuggestion is a provider's answer. Category names one of the
// requested categories.
type CategorySuggestion struct {
	Category   string
	Reasoning  string
	Confidence float64
}

// CategorySuggestionProvider proposes a category for a rule pattern.
type CategorySuggestionProvider interface {
	Name() string
	Suggest(ctx context.Context, req SuggestionRequest) (CategorySuggestion, error)
}
