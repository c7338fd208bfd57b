// Package suggest asks a category suggestion provider to configure rules that
// have no category yet, and promotes confident answers to matchable rules.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/config"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/pattern"
	"github.com/Veraticus/spice-rules/internal/service"
)

// DefaultSampleSize is how many matching transactions are sent with each
// request.
const DefaultSampleSize = 5

// HistoryApplier re-categorizes historical transactions for one rule.
type HistoryApplier interface {
	ApplyRule(ctx context.Context, ruleID int64) (model.BulkResult, error)
}

// Store is the persistence the integrator needs.
type Store interface {
	service.RuleRepository
	service.CategoryRepository
	service.TransactionRepository
}

// Config holds configuration options for the integrator.
type Config struct {
	Logger                 *slog.Logger
	AutoApplyThreshold     float64
	Concurrency            int
	Timeout                time.Duration
	RatePerMinute          int
	SampleSize             int
	DiscoverMinOccurrences int
}

// ConfigFrom builds an integrator config from the engine settings.
func ConfigFrom(cfg config.EngineConfig, logger *slog.Logger) Config {
	return Config{
		Logger:                 logger,
		AutoApplyThreshold:     cfg.AutoApplyThreshold,
		Concurrency:            cfg.ProviderConcurrency,
		Timeout:                cfg.ProviderTimeout,
		RatePerMinute:          cfg.ProviderRatePerMinute,
		SampleSize:             DefaultSampleSize,
		DiscoverMinOccurrences: cfg.DiscoverMinOccurrence,
	}
}

// Integrator runs suggestion passes over unconfigured rules.
type Integrator struct {
	store    Store
	provider service.CategorySuggestionProvider
	history  HistoryApplier
	limiter  *rate.Limiter
	logger   *slog.Logger
	cfg      Config
}

// New creates an integrator. history may be nil when historical
// re-categorization is never requested.
func New(store Store, provider service.CategorySuggestionProvider, history HistoryApplier, cfg Config) *Integrator {
	if cfg.AutoApplyThreshold <= 0 {
		cfg.AutoApplyThreshold = config.DefaultAutoApplyThreshold
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = config.DefaultProviderConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultProviderTimeout
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.DiscoverMinOccurrences <= 0 {
		cfg.DiscoverMinOccurrences = config.DefaultDiscoverMinOccurrence
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60.0)
	}

	return &Integrator{
		store:    store,
		provider: provider,
		history:  history,
		limiter:  rate.NewLimiter(limit, cfg.Concurrency),
		logger:   common.LoggerOrDefault(cfg.Logger),
		cfg:      cfg,
	}
}

// RunOptions controls a suggestion pass.
type RunOptions struct {
	ApplyHistory bool
	Limit        int
}

// RuleResult is the outcome for one rule of a pass.
type RuleResult struct {
	Err            error
	CategoryID     *int64
	Pattern        string
	Category       string
	Reasoning      string
	Status         model.SuggestionStatus
	RuleID         int64
	Confidence     float64
	HistoryUpdated int
}

// Report summarizes a suggestion pass.
type Report struct {
	Results     []RuleResult
	Processed   int
	AutoApplied int
	Pending     int
	Failed      int
}

// Run asks the provider about every unconfigured rule. Each rule is
// independent: a provider failure or timeout fails only that rule, which is
// left untouched and not retried.
func (i *Integrator) Run(ctx context.Context, opts RunOptions) (Report, error) {
	rules, err := i.store.ListRules(ctx, service.RuleFilter{
		UnconfiguredOnly: true,
		Statuses:         []model.SuggestionStatus{model.SuggestionNone, model.SuggestionPending},
	})
	if err != nil {
		return Report{}, fmt.Errorf("failed to list unconfigured rules: %w", err)
	}
	if opts.Limit > 0 && len(rules) > opts.Limit {
		rules = rules[:opts.Limit]
	}
	if len(rules) == 0 {
		return Report{}, nil
	}

	categories, err := i.store.ListCategories(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list categories: %w", err)
	}
	if len(categories) == 0 {
		return Report{}, common.NewUserError("no categories defined; add some before asking for suggestions", common.ErrMissingConfig)
	}

	txns, err := i.store.Fetch(ctx, service.TransactionFilter{})
	if err != nil {
		return Report{}, fmt.Errorf("failed to load sample transactions: %w", err)
	}

	i.logger.Info("Requesting category suggestions",
		"provider", i.provider.Name(),
		"rules", len(rules),
		"threshold", i.cfg.AutoApplyThreshold)

	// A failed rule never stops its siblings; only cancellation ends the pass
	// early, leaving unstarted rules out of the report.
	results := make([]RuleResult, len(rules))
	var g errgroup.Group
	g.SetLimit(i.cfg.Concurrency)
	for idx := range rules {
		idx := idx
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[idx] = i.suggestOne(ctx, rules[idx], categories, txns)
			return nil
		})
	}
	waitErr := g.Wait()

	report := Report{Results: results[:0]}
	for idx := range results {
		if results[idx].RuleID == 0 {
			continue
		}
		report.Results = append(report.Results, results[idx])
		r := &report.Results[len(report.Results)-1]
		report.Processed++
		switch {
		case r.Err != nil:
			report.Failed++
			i.logger.Warn("Suggestion failed", "rule_id", r.RuleID, "pattern", r.Pattern, "error", r.Err)
		case r.Status == model.SuggestionApplied:
			report.AutoApplied++
			if opts.ApplyHistory && i.history != nil {
				bulk, err := i.history.ApplyRule(ctx, r.RuleID)
				if err != nil {
					i.logger.Warn("Failed to apply rule to history", "rule_id", r.RuleID, "error", err)
				}
				r.HistoryUpdated = bulk.UpdatedCount
			}
		default:
			report.Pending++
		}
	}

	if waitErr != nil {
		return report, waitErr
	}
	return report, ctx.Err()
}

func (i *Integrator) suggestOne(ctx context.Context, rule model.EnhancementRule, categories []model.Category, txns []model.Transaction) RuleResult {
	res := RuleResult{RuleID: rule.ID, Pattern: rule.Pattern}

	if err := i.limiter.Wait(ctx); err != nil {
		res.Err = err
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	suggestion, err := i.provider.Suggest(callCtx, service.SuggestionRequest{
		RuleID:     rule.ID,
		Pattern:    rule.Pattern,
		MatchType:  rule.MatchType,
		Categories: categories,
		Samples:    samplesFor(rule, txns, i.cfg.SampleSize),
	})
	if err != nil {
		if !errors.Is(err, common.ErrProvider) {
			err = common.NewProviderError(i.provider.Name(), err)
		}
		res.Err = err
		return res
	}

	res.Category = suggestion.Category
	res.Confidence = suggestion.Confidence
	res.Reasoning = suggestion.Reasoning

	if suggestion.Confidence < 0 || suggestion.Confidence > 1 {
		res.Err = common.NewProviderError(i.provider.Name(),
			fmt.Errorf("confidence %.3f outside [0, 1]", suggestion.Confidence))
		return res
	}

	categoryID, ok := lookupCategory(categories, suggestion.Category)
	if !ok {
		res.Err = fmt.Errorf("%w: %q", common.ErrUnknownCategory, suggestion.Category)
		return res
	}
	res.CategoryID = &categoryID

	if suggestion.Confidence >= i.cfg.AutoApplyThreshold {
		err = i.store.MarkAutoApplied(ctx, rule.ID, categoryID, suggestion.Confidence)
		res.Status = model.SuggestionApplied
	} else {
		err = i.store.SaveSuggestion(ctx, rule.ID, categoryID, suggestion.Confidence)
		res.Status = model.SuggestionPending
	}
	if err != nil {
		res.Err = fmt.Errorf("failed to store suggestion: %w", err)
	}
	return res
}

func lookupCategory(categories []model.Category, name string) (int64, bool) {
	name = strings.TrimSpace(name)
	for _, c := range categories {
		if strings.EqualFold(c.Name, name) {
			return c.ID, true
		}
	}
	return 0, false
}

func samplesFor(rule model.EnhancementRule, txns []model.Transaction, n int) []service.SampleTransaction {
	// Unconfigured rules are never candidates in normal matching, but the
	// matcher itself does not care about the category.
	m := pattern.NewMatcher([]pattern.Rule{rule}, nil)

	var samples []service.SampleTransaction
	for _, txn := range txns {
		if len(m.Match(txn)) == 0 {
			continue
		}
		samples = append(samples, service.SampleTransaction{
			Date:        txn.Date,
			Description: txn.Description,
			Amount:      txn.Amount,
		})
		if len(samples) == n {
			break
		}
	}
	return samples
}

// ApplyOptions controls accepting a pending suggestion.
type ApplyOptions struct {
	// CategoryID overrides the suggested category.
	CategoryID   *int64
	ApplyHistory bool
}

// Apply accepts a PENDING suggestion. Any other state is an invalid
// transition.
func (i *Integrator) Apply(ctx context.Context, ruleID int64, opts ApplyOptions) (model.BulkResult, error) {
	rule, err := i.store.GetRule(ctx, ruleID)
	if err != nil {
		return model.BulkResult{}, err
	}
	if rule.SuggestionStatus != model.SuggestionPending {
		return model.BulkResult{}, fmt.Errorf("%w: rule %d is %s, not %s",
			common.ErrInvalidTransition, ruleID, rule.SuggestionStatus, model.SuggestionPending)
	}

	categoryID := rule.SuggestedCategoryID
	if opts.CategoryID != nil {
		categoryID = opts.CategoryID
	}
	if categoryID == nil {
		return model.BulkResult{}, fmt.Errorf("%w: rule %d has no suggested category", common.ErrInvalidRule, ruleID)
	}
	if _, err := i.store.GetCategory(ctx, *categoryID); err != nil {
		return model.BulkResult{}, err
	}

	if err := i.store.ApplyPendingSuggestion(ctx, ruleID, *categoryID); err != nil {
		return model.BulkResult{}, err
	}
	i.logger.Info("Applied suggestion", "rule_id", ruleID, "category_id", *categoryID)

	if !opts.ApplyHistory || i.history == nil {
		return model.BulkResult{Message: fmt.Sprintf("rule %d applied", ruleID)}, nil
	}
	return i.history.ApplyRule(ctx, ruleID)
}

// Reject rejects a PENDING suggestion. The rule is kept so the rejection is
// remembered and the rule is not suggested again.
func (i *Integrator) Reject(ctx context.Context, ruleID int64) error {
	if err := i.store.RejectSuggestion(ctx, ruleID); err != nil {
		return err
	}
	i.logger.Info("Rejected suggestion", "rule_id", ruleID)
	return nil
}
