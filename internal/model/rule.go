// Package model defines the core data structures for the spice application.
package model

import (
	"fmt"
	"time"
)

// MatchType selects how a rule pattern is compared with a normalized description.
type MatchType string

// Match type constants.
const (
	MatchExact    MatchType = "EXACT"
	MatchContains MatchType = "CONTAINS"
	MatchRegex    MatchType = "REGEX"
)

// Specificity ranks match types for conflict resolution. Higher wins.
func (m MatchType) Specificity() int {
	switch m {
	case MatchExact:
		return 3
	case MatchContains:
		return 2
	case MatchRegex:
		return 1
	default:
		return 0
	}
}

// ParseMatchType validates a match type name.
func ParseMatchType(s string) (MatchType, error) {
	switch m := MatchType(s); m {
	case MatchExact, MatchContains, MatchRegex:
		return m, nil
	default:
		return "", fmt.Errorf("unknown match type %q", s)
	}
}

// RuleSource records who created or configured a rule.
type RuleSource string

// Rule source constants.
const (
	SourceManual      RuleSource = "MANUAL"
	SourceAIAuto      RuleSource = "AI_AUTO"
	SourceAISuggested RuleSource = "AI_SUGGESTED"
)

// Priority ranks rule sources for conflict resolution. Higher wins.
func (s RuleSource) Priority() int {
	switch s {
	case SourceManual:
		return 3
	case SourceAIAuto:
		return 2
	case SourceAISuggested:
		return 1
	default:
		return 0
	}
}

// ParseRuleSource validates a rule source name.
func ParseRuleSource(s string) (RuleSource, error) {
	switch src := RuleSource(s); src {
	case SourceManual, SourceAIAuto, SourceAISuggested:
		return src, nil
	default:
		return "", fmt.Errorf("unknown rule source %q", s)
	}
}

// SuggestionStatus tracks the review state of an AI suggestion.
type SuggestionStatus string

// Suggestion status constants.
const (
	SuggestionNone     SuggestionStatus = "NONE"
	SuggestionPending  SuggestionStatus = "PENDING"
	SuggestionApplied  SuggestionStatus = "APPLIED"
	SuggestionRejected SuggestionStatus = "REJECTED"
)

// ParseSuggestionStatus validates a suggestion status name.
func ParseSuggestionStatus(s string) (SuggestionStatus, error) {
	switch st := SuggestionStatus(s); st {
	case SuggestionNone, SuggestionPending, SuggestionApplied, SuggestionRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown suggestion status %q", s)
	}
}

// EnhancementRule maps a description pattern to a category and optional
// counterparty account.
type EnhancementRule struct {
	CreatedAt             time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt             time.Time        `json:"updated_at" yaml:"-"`
	CategoryID            *int64           `json:"category_id,omitempty" yaml:"-"`
	CounterpartyAccountID *int64           `json:"counterparty_account_id,omitempty" yaml:"-"`
	MinAmount             *float64         `json:"min_amount,omitempty" yaml:"min_amount,omitempty"`
	MaxAmount             *float64         `json:"max_amount,omitempty" yaml:"max_amount,omitempty"`
	ValidFrom             *time.Time       `json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	ValidTo               *time.Time       `json:"valid_to,omitempty" yaml:"valid_to,omitempty"`
	SuggestionConfidence  *float64         `json:"suggestion_confidence,omitempty" yaml:"-"`
	SuggestedCategoryID   *int64           `json:"suggested_category_id,omitempty" yaml:"-"`
	Pattern               string           `json:"pattern" yaml:"pattern"`
	MatchType             MatchType        `json:"match_type" yaml:"match_type"`
	Source                RuleSource       `json:"source" yaml:"source"`
	SuggestionStatus      SuggestionStatus `json:"suggestion_status" yaml:"-"`
	InvalidReason         string           `json:"invalid_reason,omitempty" yaml:"-"`
	ID                    int64            `json:"id" yaml:"-"`
	UsageCount            int64            `json:"usage_count" yaml:"-"`
	NormalizerVersion     int              `json:"normalizer_version" yaml:"-"`
	Invalid               bool             `json:"invalid" yaml:"-"`
}

// Configured reports whether the rule has a category and may therefore win
// a match.
func (r EnhancementRule) Configured() bool {
	return r.CategoryID != nil
}

// ActiveAt reports whether the rule's validity window covers t.
// Both ends are inclusive and compared by calendar day.
func (r EnhancementRule) ActiveAt(t time.Time) bool {
	day := truncateDay(t)
	if r.ValidFrom != nil && day.Before(truncateDay(*r.ValidFrom)) {
		return false
	}
	if r.ValidTo != nil && day.After(truncateDay(*r.ValidTo)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
