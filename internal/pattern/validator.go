package pattern

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/normalize"
)

// Prepare validates a rule before it is written and brings it into stored
// form. Literal patterns are normalized. A pattern that cannot match anything
// (an expression that does not compile, or a literal that normalizes to
// nothing) does not fail Prepare; the rule is flagged invalid instead so it
// stays visible to the invalid-rules query. Structural problems are returned
// as errors wrapping common.ErrInvalidRule.
func Prepare(rule *Rule) error {
	if rule.Source == "" {
		rule.Source = model.SourceManual
	}
	if rule.SuggestionStatus == "" {
		rule.SuggestionStatus = model.SuggestionNone
	}

	if _, err := model.ParseMatchType(string(rule.MatchType)); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidRule, err)
	}
	if _, err := model.ParseRuleSource(string(rule.Source)); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidRule, err)
	}
	if strings.TrimSpace(rule.Pattern) == "" {
		return fmt.Errorf("%w: empty pattern", common.ErrInvalidRule)
	}
	if err := validateInvariants(*rule); err != nil {
		return err
	}

	rule.Invalid = false
	rule.InvalidReason = ""
	rule.NormalizerVersion = normalize.Version

	switch rule.MatchType {
	case model.MatchExact, model.MatchContains:
		normalized := normalize.Pattern(rule.Pattern)
		if normalized == "" {
			// Keep the raw text so the flagged rule stays recognizable.
			rule.Pattern = strings.TrimSpace(rule.Pattern)
			rule.Invalid = true
			rule.InvalidReason = "pattern is empty after normalization"
			break
		}
		rule.Pattern = normalized
	case model.MatchRegex:
		rule.Pattern = strings.TrimSpace(rule.Pattern)
		if _, err := Compile(rule.Pattern); err != nil {
			rule.Invalid = true
			rule.InvalidReason = strings.TrimPrefix(err.Error(), common.ErrInvalidPattern.Error()+": ")
		}
	}

	return nil
}

func validateInvariants(rule Rule) error {
	var errs []error

	if rule.MinAmount != nil && rule.MaxAmount != nil && *rule.MinAmount > *rule.MaxAmount {
		errs = append(errs, fmt.Errorf("min amount %.2f exceeds max amount %.2f", *rule.MinAmount, *rule.MaxAmount))
	}
	if rule.ValidFrom != nil && rule.ValidTo != nil && rule.ValidFrom.After(*rule.ValidTo) {
		errs = append(errs, errors.New("valid_from is after valid_to"))
	}
	if err := CheckSuggestionState(rule.Source, rule.SuggestionStatus, rule.CategoryID != nil); err != nil {
		errs = append(errs, err)
	}
	if rule.Source == model.SourceManual && rule.SuggestionConfidence != nil {
		errs = append(errs, errors.New("manual rules carry no suggestion confidence"))
	}
	if c := rule.SuggestionConfidence; c != nil && (*c < 0 || *c > 1) {
		errs = append(errs, fmt.Errorf("confidence %v outside [0, 1]", *c))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", common.ErrInvalidRule, errors.Join(errs...))
}

// CheckSuggestionState reports whether a rule's source, suggestion status and
// category presence form a reachable combination. A MANUAL rule has no
// suggestion status. An AI_SUGGESTED rule is PENDING or REJECTED without a
// category, or APPLIED with one. An AI_AUTO rule is always APPLIED with a
// category.
func CheckSuggestionState(source model.RuleSource, status model.SuggestionStatus, hasCategory bool) error {
	switch source {
	case model.SourceAISuggested:
		switch {
		case status == model.SuggestionPending && !hasCategory,
			status == model.SuggestionRejected && !hasCategory,
			status == model.SuggestionApplied && hasCategory:
			return nil
		case status == model.SuggestionApplied:
			return errors.New("applied suggestion must carry a category")
		case status == model.SuggestionPending || status == model.SuggestionRejected:
			return fmt.Errorf("%s suggestion must not carry a category", strings.ToLower(string(status)))
		default:
			return fmt.Errorf("suggested rule cannot have suggestion status %s", status)
		}
	case model.SourceManual:
		if status != model.SuggestionNone {
			return fmt.Errorf("manual rule cannot have suggestion status %s", status)
		}
	case model.SourceAIAuto:
		if status != model.SuggestionApplied || !hasCategory {
			return errors.New("auto-applied rule must be APPLIED with a category")
		}
	}
	return nil
}
