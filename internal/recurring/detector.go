// Package recurring finds periodically repeating expenses in categorized
// transaction history. Detection is read-only and deterministic for a given
// transaction slice and clock.
package recurring

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/spice-rules/internal/config"
	"github.com/Veraticus/spice-rules/internal/model"
)

// Options controls a detection run.
type Options struct {
	// ActiveOnly drops patterns whose last payment is overdue.
	ActiveOnly bool
}

// Result is the output of a detection run.
type Result struct {
	Patterns []model.RecurringPattern `json:"patterns"`
	Summary  model.RecurringSummary   `json:"summary"`
}

// Detector classifies transaction groups into recurrence buckets.
type Detector struct {
	now       func() time.Time
	buckets   []config.Bucket
	tolerance float64
}

// NewDetector creates a detector. A nil now uses time.Now.
func NewDetector(cfg config.EngineConfig, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = config.DefaultBuckets()
	}
	return &Detector{
		now:       now,
		buckets:   buckets,
		tolerance: cfg.Tolerance,
	}
}

// Detect groups categorized transactions by normalized description and
// returns one pattern per group with a recognizable interval.
func (d *Detector) Detect(txns []model.Transaction, opts Options) Result {
	groups := make(map[string][]model.Transaction)
	for _, txn := range txns {
		if txn.CategoryID == nil || txn.NormalizedDescription == "" {
			continue
		}
		groups[txn.NormalizedDescription] = append(groups[txn.NormalizedDescription], txn)
	}

	today := dayNumber(d.now())
	patterns := make([]model.RecurringPattern, 0, len(groups))
	for desc, group := range groups {
		p, ok := d.classify(desc, group, today)
		if !ok {
			continue
		}
		if opts.ActiveOnly && !p.Active {
			continue
		}
		patterns = append(patterns, p)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].TotalAnnualCost != patterns[j].TotalAnnualCost {
			return patterns[i].TotalAnnualCost > patterns[j].TotalAnnualCost
		}
		return patterns[i].NormalizedDescription < patterns[j].NormalizedDescription
	})

	return Result{Patterns: patterns, Summary: Summarize(patterns)}
}

func (d *Detector) classify(desc string, group []model.Transaction, today int64) (model.RecurringPattern, bool) {
	if len(group) < 2 {
		return model.RecurringPattern{}, false
	}

	sorted := make([]model.Transaction, len(group))
	copy(sorted, group)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, float64(dayNumber(sorted[i].Date)-dayNumber(sorted[i-1].Date)))
	}
	interval := median(gaps)

	bucket, ok := d.bucketFor(interval)
	if !ok {
		return model.RecurringPattern{}, false
	}

	avg, variance := amountStats(sorted)
	annual := decimal.NewFromFloat(avg).Mul(decimal.NewFromFloat(bucket.PerYear)).Round(2)

	last := sorted[len(sorted)-1]
	since := float64(today - dayNumber(last.Date))

	return model.RecurringPattern{
		NormalizedDescription: desc,
		PatternType:           model.PatternType(bucket.Name),
		IntervalDays:          interval,
		AverageAmount:         avg,
		AmountVariance:        variance,
		TotalAnnualCost:       annual.InexactFloat64(),
		CategoryID:            dominantCategory(sorted),
		TransactionCount:      len(sorted),
		FirstTransactionDate:  sorted[0].Date,
		LastTransactionDate:   last.Date,
		Active:                since <= interval*(1+d.tolerance),
	}, true
}

// bucketFor picks the bucket whose centre is nearest to interval among the
// buckets whose widened range contains it. Earlier buckets win exact ties.
func (d *Detector) bucketFor(interval float64) (config.Bucket, bool) {
	var best config.Bucket
	bestDist := math.Inf(1)
	for _, b := range d.buckets {
		lo := b.MinDays * (1 - d.tolerance)
		hi := b.MaxDays * (1 + d.tolerance)
		if interval < lo || interval > hi {
			continue
		}
		dist := math.Abs(interval - (b.MinDays+b.MaxDays)/2)
		if dist < bestDist {
			best, bestDist = b, dist
		}
	}
	return best, !math.IsInf(bestDist, 1)
}

// amountStats returns the mean and population variance of the absolute
// amounts. The mean is rounded to cents.
func amountStats(txns []model.Transaction) (float64, float64) {
	sum := decimal.Zero
	for _, txn := range txns {
		sum = sum.Add(decimal.NewFromFloat(txn.Amount).Abs())
	}
	n := decimal.NewFromInt(int64(len(txns)))
	mean := sum.Div(n)

	sq := decimal.Zero
	for _, txn := range txns {
		diff := decimal.NewFromFloat(txn.Amount).Abs().Sub(mean)
		sq = sq.Add(diff.Mul(diff))
	}
	variance := sq.Div(n).Round(4)

	return mean.Round(2).InexactFloat64(), variance.InexactFloat64()
}

// dominantCategory is the most frequent category. Ties go to the category
// seen most recently. txns must be sorted by date.
func dominantCategory(txns []model.Transaction) int64 {
	counts := make(map[int64]int)
	lastSeen := make(map[int64]int)
	for i, txn := range txns {
		counts[*txn.CategoryID]++
		lastSeen[*txn.CategoryID] = i
	}

	var best int64
	bestCount, bestSeen := -1, -1
	for id, c := range counts {
		if c > bestCount || c == bestCount && lastSeen[id] > bestSeen {
			best, bestCount, bestSeen = id, c, lastSeen[id]
		}
	}
	return best
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// dayNumber counts calendar days so that clock time and DST never skew a gap.
func dayNumber(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// Summarize aggregates patterns into totals.
func Summarize(patterns []model.RecurringPattern) model.RecurringSummary {
	summary := model.RecurringSummary{CountByType: make(map[model.PatternType]int)}
	annual := decimal.Zero
	for _, p := range patterns {
		annual = annual.Add(decimal.NewFromFloat(p.TotalAnnualCost))
		summary.CountByType[p.PatternType]++
		if p.Active {
			summary.ActiveCount++
		}
	}
	summary.TotalAnnualCost = annual.Round(2).InexactFloat64()
	summary.TotalMonthlyCost = annual.Div(decimal.NewFromInt(12)).Round(2).InexactFloat64()
	return summary
}
