package recurring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/config"
	"github.com/Veraticus/spice-rules/internal/model"
)

var baseDate = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// series builds n transactions spaced gap days apart starting at start.
func series(desc string, start time.Time, n, gap int, amount float64, categoryID int64) []model.Transaction {
	txns := make([]model.Transaction, n)
	for i := range txns {
		id := categoryID
		txns[i] = model.Transaction{
			ID:                    fmt.Sprintf("%s-%02d", desc, i),
			Date:                  start.AddDate(0, 0, i*gap),
			Description:           desc,
			NormalizedDescription: desc,
			Amount:                amount,
			CategoryID:            &id,
			Status:                model.StatusRuleMatched,
		}
	}
	return txns
}

func newDetector(now time.Time) *Detector {
	return NewDetector(config.DefaultEngineConfig(), fixedClock(now))
}

func TestDetect_MonthlyBaseline(t *testing.T) {
	txns := series("gym membership", baseDate, 12, 30, -50, 1)
	last := txns[len(txns)-1].Date
	d := newDetector(last.AddDate(0, 0, 10))

	result := d.Detect(txns, Options{})
	require.Len(t, result.Patterns, 1)

	p := result.Patterns[0]
	assert.Equal(t, model.PatternMonthly, p.PatternType)
	assert.InDelta(t, 30, p.IntervalDays, 1e-9)
	assert.InDelta(t, 50, p.AverageAmount, 1e-9)
	assert.InDelta(t, 600, p.TotalAnnualCost, 1e-9)
	assert.Zero(t, p.AmountVariance)
	assert.Equal(t, 12, p.TransactionCount)
	assert.Equal(t, int64(1), p.CategoryID)
	assert.Equal(t, baseDate, p.FirstTransactionDate)
	assert.Equal(t, last, p.LastTransactionDate)
	assert.True(t, p.Active)

	assert.InDelta(t, 50, result.Summary.TotalMonthlyCost, 1e-9)
	assert.InDelta(t, 600, result.Summary.TotalAnnualCost, 1e-9)
	assert.Equal(t, 1, result.Summary.ActiveCount)
	assert.Equal(t, map[model.PatternType]int{model.PatternMonthly: 1}, result.Summary.CountByType)
}

func TestDetect_Buckets(t *testing.T) {
	tests := []struct {
		name     string
		want     model.PatternType
		n        int
		gap      int
		amount   float64
		annual   float64
		interval float64
	}{
		{name: "quarterly", n: 4, gap: 91, amount: 120, want: model.PatternQuarterly, annual: 480, interval: 91},
		{name: "yearly", n: 3, gap: 365, amount: 99.99, want: model.PatternYearly, annual: 99.99, interval: 365},
		{name: "monthly within tolerance", n: 5, gap: 34, amount: 10, want: model.PatternMonthly, annual: 120, interval: 34},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txns := series("insurance", baseDate, tt.n, tt.gap, tt.amount, 3)
			d := newDetector(txns[len(txns)-1].Date)

			result := d.Detect(txns, Options{})
			require.Len(t, result.Patterns, 1)
			assert.Equal(t, tt.want, result.Patterns[0].PatternType)
			assert.InDelta(t, tt.interval, result.Patterns[0].IntervalDays, 1e-9)
			assert.InDelta(t, tt.annual, result.Patterns[0].TotalAnnualCost, 1e-9)
		})
	}
}

func TestDetect_Discards(t *testing.T) {
	tests := []struct {
		name string
		txns []model.Transaction
	}{
		{name: "single occurrence", txns: series("one off", baseDate, 1, 30, 20, 1)},
		{name: "weekly", txns: series("coffee", baseDate, 8, 7, 4.5, 1)},
		{name: "between buckets", txns: series("odd", baseDate, 4, 60, 30, 1)},
		{
			name: "uncategorized",
			txns: func() []model.Transaction {
				txns := series("unknown", baseDate, 6, 30, 15, 1)
				for i := range txns {
					txns[i].CategoryID = nil
				}
				return txns
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newDetector(baseDate.AddDate(1, 0, 0)).Detect(tt.txns, Options{})
			assert.Empty(t, result.Patterns)
			assert.Zero(t, result.Summary.TotalAnnualCost)
		})
	}
}

func TestDetect_ActiveFlag(t *testing.T) {
	txns := series("streaming", baseDate, 6, 30, 15.99, 2)
	last := txns[len(txns)-1].Date

	// 30 * 1.15 = 34.5 days of grace.
	active := newDetector(last.AddDate(0, 0, 34)).Detect(txns, Options{})
	require.Len(t, active.Patterns, 1)
	assert.True(t, active.Patterns[0].Active)

	lapsed := newDetector(last.AddDate(0, 0, 35)).Detect(txns, Options{})
	require.Len(t, lapsed.Patterns, 1)
	assert.False(t, lapsed.Patterns[0].Active)
	assert.Zero(t, lapsed.Summary.ActiveCount)

	filtered := newDetector(last.AddDate(0, 0, 35)).Detect(txns, Options{ActiveOnly: true})
	assert.Empty(t, filtered.Patterns)
}

func TestDetect_MedianInterval(t *testing.T) {
	gaps := []int{29, 31, 30, 45}
	var txns []model.Transaction
	date := baseDate
	for i := 0; i <= len(gaps); i++ {
		id := int64(1)
		txns = append(txns, model.Transaction{
			ID:                    fmt.Sprintf("t%d", i),
			Date:                  date,
			NormalizedDescription: "phone bill",
			Amount:                -40,
			CategoryID:            &id,
		})
		if i < len(gaps) {
			date = date.AddDate(0, 0, gaps[i])
		}
	}

	result := newDetector(date).Detect(txns, Options{})
	require.Len(t, result.Patterns, 1)
	// Sorted gaps 29 30 31 45, mean of the middle two.
	assert.InDelta(t, 30.5, result.Patterns[0].IntervalDays, 1e-9)
}

func TestDetect_AmountStatistics(t *testing.T) {
	txns := series("electric", baseDate, 2, 30, 0, 1)
	txns[0].Amount = -40
	txns[1].Amount = 60

	result := newDetector(txns[1].Date).Detect(txns, Options{})
	require.Len(t, result.Patterns, 1)
	p := result.Patterns[0]
	assert.InDelta(t, 50, p.AverageAmount, 1e-9)
	assert.InDelta(t, 100, p.AmountVariance, 1e-9)
	assert.InDelta(t, 0.2, p.CoefficientOfVariation(), 1e-9)
}

func TestDetect_DominantCategory(t *testing.T) {
	tests := []struct {
		name       string
		categories []int64
		want       int64
	}{
		{name: "majority", categories: []int64{1, 1, 2}, want: 1},
		{name: "tie goes to most recent", categories: []int64{1, 2, 1, 2}, want: 2},
		{name: "tie goes to most recent reversed", categories: []int64{2, 1, 2, 1}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txns := series("rent", baseDate, len(tt.categories), 30, 1000, 0)
			for i := range txns {
				id := tt.categories[i]
				txns[i].CategoryID = &id
			}
			result := newDetector(txns[len(txns)-1].Date).Detect(txns, Options{})
			require.Len(t, result.Patterns, 1)
			assert.Equal(t, tt.want, result.Patterns[0].CategoryID)
		})
	}
}

func TestDetect_OrderingAndDeterminism(t *testing.T) {
	var txns []model.Transaction
	txns = append(txns, series("b service", baseDate, 3, 30, 10, 1)...)
	txns = append(txns, series("a service", baseDate, 3, 30, 10, 1)...)
	txns = append(txns, series("insurance", baseDate, 3, 91, 300, 2)...)
	now := baseDate.AddDate(0, 7, 0)

	first := newDetector(now).Detect(txns, Options{})
	require.Len(t, first.Patterns, 3)
	assert.Equal(t, "insurance", first.Patterns[0].NormalizedDescription)
	assert.Equal(t, "a service", first.Patterns[1].NormalizedDescription)
	assert.Equal(t, "b service", first.Patterns[2].NormalizedDescription)
	assert.InDelta(t, 1440, first.Summary.TotalAnnualCost, 1e-9)
	assert.InDelta(t, 120, first.Summary.TotalMonthlyCost, 1e-9)
	assert.Equal(t, 2, first.Summary.CountByType[model.PatternMonthly])
	assert.Equal(t, 1, first.Summary.CountByType[model.PatternQuarterly])

	// Input order does not matter.
	reversed := make([]model.Transaction, len(txns))
	for i, txn := range txns {
		reversed[len(txns)-1-i] = txn
	}
	assert.Equal(t, first, newDetector(now).Detect(reversed, Options{}))
}
