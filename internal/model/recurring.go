package model

import (
	"math"
	"time"
)

// PatternType is the recurrence bucket a pattern falls into.
type PatternType string

// Pattern type constants.
const (
	PatternMonthly   PatternType = "MONTHLY"
	PatternQuarterly PatternType = "QUARTERLY"
	PatternYearly    PatternType = "YEARLY"
)

// RecurringPattern is a derived description of a repeating expense. It is
// computed on request and never persisted.
type RecurringPattern struct {
	FirstTransactionDate  time.Time   `json:"first_transaction_date"`
	LastTransactionDate   time.Time   `json:"last_transaction_date"`
	NormalizedDescription string      `json:"normalized_description"`
	PatternType           PatternType `json:"pattern_type"`
	IntervalDays          float64     `json:"interval_days"`
	AverageAmount         float64     `json:"average_amount"`
	AmountVariance        float64     `json:"amount_variance"`
	TotalAnnualCost       float64     `json:"total_annual_cost"`
	CategoryID            int64       `json:"category_id"`
	TransactionCount      int         `json:"transaction_count"`
	Active                bool        `json:"active"`
}

// CoefficientOfVariation is the standard deviation of the amounts relative to
// their mean. Zero when the mean is zero.
func (p RecurringPattern) CoefficientOfVariation() float64 {
	if p.AverageAmount == 0 {
		return 0
	}
	return math.Sqrt(p.AmountVariance) / p.AverageAmount
}

// RecurringSummary aggregates a set of recurring patterns.
type RecurringSummary struct {
	CountByType      map[PatternType]int `json:"count_by_type"`
	TotalMonthlyCost float64             `json:"total_monthly_cost"`
	TotalAnnualCost  float64             `json:"total_annual_cost"`
	ActiveCount      int                 `json:"active_count"`
}
