package pattern

import (
	"math/rand"
	"testing"
	"time"

	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	tests := []struct {
		name string
		a    Rule
		b    Rule
	}{
		{
			name: "manual beats ai auto",
			a:    Rule{ID: 1, Source: model.SourceManual, MatchType: model.MatchRegex, Pattern: "x"},
			b:    Rule{ID: 2, Source: model.SourceAIAuto, MatchType: model.MatchExact, Pattern: "longer pattern"},
		},
		{
			name: "ai auto beats ai suggested",
			a:    Rule{ID: 1, Source: model.SourceAIAuto, MatchType: model.MatchRegex},
			b:    Rule{ID: 2, Source: model.SourceAISuggested, MatchType: model.MatchExact},
		},
		{
			name: "exact beats contains",
			a:    Rule{ID: 1, Source: model.SourceManual, MatchType: model.MatchExact, Pattern: "a"},
			b:    Rule{ID: 2, Source: model.SourceManual, MatchType: model.MatchContains, Pattern: "abc"},
		},
		{
			name: "contains beats regex",
			a:    Rule{ID: 1, Source: model.SourceManual, MatchType: model.MatchContains, Pattern: "a"},
			b:    Rule{ID: 2, Source: model.SourceManual, MatchType: model.MatchRegex, Pattern: "abc"},
		},
		{
			name: "longer pattern wins",
			a:    Rule{ID: 1, Source: model.SourceManual, MatchType: model.MatchContains, Pattern: "netflix premium"},
			b:    Rule{ID: 2, Source: model.SourceManual, MatchType: model.MatchContains, Pattern: "netflix"},
		},
		{
			name: "pattern length counts runes",
			a:    Rule{ID: 1, Source: model.SourceManual, MatchType: model.MatchContains, Pattern: "abcd"},
			b:    Rule{ID: 2, Source: model.SourceManual, MatchType: model.MatchContains, Pattern: "çé"},
		},
		{
			name: "newer rule wins",
			a:    Rule{ID: 1, Source: model.SourceManual, MatchType: model.MatchContains, Pattern: "abc", CreatedAt: newer},
			b:    Rule{ID: 2, Source: model.SourceManual, MatchType: model.MatchContains, Pattern: "xyz", CreatedAt: older},
		},
		{
			name: "higher id breaks exact ties",
			a:    Rule{ID: 9, Source: model.SourceManual, MatchType: model.MatchContains, Pattern: "abc", CreatedAt: older},
			b:    Rule{ID: 3, Source: model.SourceManual, MatchType: model.MatchContains, Pattern: "xyz", CreatedAt: older},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Negative(t, Compare(tt.a, tt.b))
			assert.Positive(t, Compare(tt.b, tt.a))
		})
	}
}

// TestCompare_TotalOrder checks antisymmetry, transitivity and totality over
// random rule sets built to collide at every level.
func TestCompare_TotalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sources := []model.RuleSource{model.SourceManual, model.SourceAIAuto, model.SourceAISuggested}
	types := []model.MatchType{model.MatchExact, model.MatchContains, model.MatchRegex}
	patterns := []string{"ab", "cd", "abc", "netflix"}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for round := 0; round < 25; round++ {
		rules := make([]Rule, 30)
		for i := range rules {
			rules[i] = Rule{
				ID:        int64(i + 1),
				Source:    sources[rng.Intn(len(sources))],
				MatchType: types[rng.Intn(len(types))],
				Pattern:   patterns[rng.Intn(len(patterns))],
				CreatedAt: base.Add(time.Duration(rng.Intn(3)) * time.Minute),
			}
		}

		for _, a := range rules {
			for _, b := range rules {
				ab, ba := Compare(a, b), Compare(b, a)
				if a.ID == b.ID {
					require.Zero(t, ab)
					continue
				}
				require.NotZero(t, ab, "rules %d and %d compare equal", a.ID, b.ID)
				require.Equal(t, ab < 0, ba > 0, "antisymmetry broken for %d, %d", a.ID, b.ID)

				for _, c := range rules {
					if ab < 0 && Compare(b, c) < 0 {
						require.Negative(t, Compare(a, c), "transitivity broken for %d, %d, %d", a.ID, b.ID, c.ID)
					}
				}
			}
		}

		shuffled := append([]Rule(nil), rules...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		SortCandidates(rules)
		SortCandidates(shuffled)
		for i := range rules {
			require.Equal(t, rules[i].ID, shuffled[i].ID)
		}
	}
}

func TestResolve(t *testing.T) {
	streaming := int64Ptr(10)
	entertainment := int64Ptr(20)

	t.Run("netflix specificity", func(t *testing.T) {
		rules := []Rule{
			{ID: 1, Pattern: "netflix", MatchType: model.MatchContains, Source: model.SourceManual, CategoryID: entertainment},
			{ID: 2, Pattern: "netflix premium", MatchType: model.MatchContains, Source: model.SourceManual, CategoryID: streaming},
		}
		day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		winner := Resolve(NewMatcher(rules, nil).Match(txnFor("NETFLIX PREMIUM 123", 22.99, day)))

		require.NotNil(t, winner)
		assert.Equal(t, int64(2), winner.ID)
		assert.Equal(t, *streaming, *winner.CategoryID)
	})

	t.Run("unconfigured rule never wins", func(t *testing.T) {
		candidates := []Rule{
			{ID: 1, Pattern: "netflix premium", MatchType: model.MatchExact, Source: model.SourceManual},
			{ID: 2, Pattern: "net", MatchType: model.MatchRegex, Source: model.SourceAISuggested, SuggestionStatus: model.SuggestionPending},
			{ID: 3, Pattern: "netflix", MatchType: model.MatchContains, Source: model.SourceAIAuto, CategoryID: entertainment},
		}
		winner := Resolve(candidates)
		require.NotNil(t, winner)
		assert.Equal(t, int64(3), winner.ID)
	})

	t.Run("no configured candidate", func(t *testing.T) {
		assert.Nil(t, Resolve([]Rule{{ID: 1, Pattern: "x", MatchType: model.MatchExact}}))
		assert.Nil(t, Resolve(nil))
	})

	t.Run("order of candidates does not matter", func(t *testing.T) {
		a := Rule{ID: 1, Pattern: "abc", MatchType: model.MatchContains, Source: model.SourceAIAuto, CategoryID: streaming}
		b := Rule{ID: 2, Pattern: "abc", MatchType: model.MatchContains, Source: model.SourceAIAuto, CategoryID: entertainment}
		assert.Equal(t, int64(2), Resolve([]Rule{a, b}).ID)
		assert.Equal(t, int64(2), Resolve([]Rule{b, a}).ID)
	})
}
