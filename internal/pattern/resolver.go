package pattern

import (
	"sort"
	"unicode/utf8"
)

// Compare orders two rules for conflict resolution. It returns a negative
// number when a is preferred over b, positive when b is preferred, and zero
// only for the same rule. The order is:
//
//  1. source priority (MANUAL, AI_AUTO, AI_SUGGESTED)
//  2. match specificity (EXACT, CONTAINS, REGEX)
//  3. longer pattern
//  4. newer rule
//  5. higher rule ID
func Compare(a, b Rule) int {
	if d := b.Source.Priority() - a.Source.Priority(); d != 0 {
		return d
	}
	if d := b.MatchType.Specificity() - a.MatchType.Specificity(); d != 0 {
		return d
	}
	if d := utf8.RuneCountInString(b.Pattern) - utf8.RuneCountInString(a.Pattern); d != 0 {
		return d
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}

// SortCandidates sorts rules in place, most preferred first.
func SortCandidates(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return Compare(rules[i], rules[j]) < 0
	})
}

// Resolve picks the winning rule among candidates. Rules without a category
// never win. It returns nil when no candidate can be applied.
func Resolve(candidates []Rule) *Rule {
	var winner *Rule
	for i := range candidates {
		c := candidates[i]
		if !c.Configured() {
			continue
		}
		if winner == nil || Compare(c, *winner) < 0 {
			winner = &c
		}
	}
	return winner
}
