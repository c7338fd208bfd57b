package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleSource_Priority(t *testing.T) {
	assert.Greater(t, SourceManual.Priority(), SourceAIAuto.Priority())
	assert.Greater(t, SourceAIAuto.Priority(), SourceAISuggested.Priority())
	assert.Equal(t, 0, RuleSource("OTHER").Priority())
}

func TestMatchType_Specificity(t *testing.T) {
	assert.Greater(t, MatchExact.Specificity(), MatchContains.Specificity())
	assert.Greater(t, MatchContains.Specificity(), MatchRegex.Specificity())
}

func TestParseMatchType(t *testing.T) {
	m, err := ParseMatchType("CONTAINS")
	require.NoError(t, err)
	assert.Equal(t, MatchContains, m)

	_, err = ParseMatchType("contains")
	assert.Error(t, err)
}

func TestEnhancementRule_ActiveAt(t *testing.T) {
	day := func(s string) time.Time {
		d, err := time.Parse("2006-01-02", s)
		require.NoError(t, err)
		return d
	}
	from := day("2024-01-01")
	to := day("2024-06-30")

	tests := []struct {
		name string
		rule EnhancementRule
		at   time.Time
		want bool
	}{
		{name: "no window", rule: EnhancementRule{}, at: day("1999-01-01"), want: true},
		{name: "on start day", rule: EnhancementRule{ValidFrom: &from}, at: from.Add(23 * time.Hour), want: true},
		{name: "before start", rule: EnhancementRule{ValidFrom: &from}, at: day("2023-12-31"), want: false},
		{name: "on end day", rule: EnhancementRule{ValidTo: &to}, at: to.Add(12 * time.Hour), want: true},
		{name: "after end", rule: EnhancementRule{ValidFrom: &from, ValidTo: &to}, at: day("2024-07-01"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.ActiveAt(tt.at))
		})
	}
}

func TestRecurringPattern_CoefficientOfVariation(t *testing.T) {
	p := RecurringPattern{AverageAmount: 50, AmountVariance: 25}
	assert.InDelta(t, 0.1, p.CoefficientOfVariation(), 1e-9)
	assert.Zero(t, RecurringPattern{}.CoefficientOfVariation())
}
