package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// TransactionStatus indicates how a transaction was categorized.
type TransactionStatus string

// Transaction status constants.
const (
	StatusUncategorized TransactionStatus = "UNCATEGORIZED"
	StatusRuleMatched   TransactionStatus = "RULE_MATCHED"
	StatusManual        TransactionStatus = "MANUAL"
	StatusFailed        TransactionStatus = "FAILED"
)

// Evaluable reports whether the engine may (re)assign a category to a
// transaction in this state. Manual overrides and unacknowledged failures
// are left alone.
func (s TransactionStatus) Evaluable() bool {
	return s == StatusUncategorized || s == StatusRuleMatched
}

// Transaction represents a single financial transaction from any source.
type Transaction struct {
	Date                  time.Time
	CategoryID            *int64
	CounterpartyAccountID *int64
	MatchedRuleID         *int64
	ID                    string
	AccountID             string
	Description           string // Raw description as imported
	NormalizedDescription string
	Hash                  string
	Status                TransactionStatus
	Amount                float64
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Description,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Assignment is the command issued back to the transaction repository when a
// rule wins. Status and matched rule are always written together.
type Assignment struct {
	CounterpartyAccountID *int64
	TransactionID         string
	CategoryID            int64
	RuleID                int64
}

// PreviewResult describes what would happen to a transaction without
// changing anything.
type PreviewResult struct {
	CategoryID            *int64
	CounterpartyAccountID *int64
	RuleID                *int64
	RulePattern           string
	Candidates            []EnhancementRule
	Matched               bool
}

// BulkResult reports the outcome of a bulk apply or replace.
type BulkResult struct {
	Message      string
	UpdatedCount int
	FailedCount  int
}
