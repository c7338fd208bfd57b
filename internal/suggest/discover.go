package suggest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/pattern"
	"github.com/Veraticus/spice-rules/internal/service"
)

// DiscoverOptions controls rule discovery.
type DiscoverOptions struct {
	MinOccurrences int
	DryRun         bool
}

// Discovered is a description seen often enough to become a rule.
type Discovered struct {
	Rule        model.EnhancementRule
	Occurrences int
}

// Discover turns recurring descriptions of uncategorized transactions into
// unconfigured EXACT rules, which Run can then ask the provider about.
// Descriptions already matched by any stored rule are skipped.
func (i *Integrator) Discover(ctx context.Context, opts DiscoverOptions) ([]Discovered, error) {
	minCount := opts.MinOccurrences
	if minCount <= 0 {
		minCount = i.cfg.DiscoverMinOccurrences
	}

	txns, err := i.store.Fetch(ctx, service.TransactionFilter{
		Statuses: []model.TransactionStatus{model.StatusUncategorized},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch uncategorized transactions: %w", err)
	}

	existing, err := i.store.ListRules(ctx, service.RuleFilter{IncludeInvalid: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	covered := pattern.NewMatcher(existing, nil)

	counts := make(map[string]int)
	for _, txn := range txns {
		if txn.NormalizedDescription == "" || len(covered.Match(txn)) > 0 {
			continue
		}
		counts[txn.NormalizedDescription]++
	}

	var found []Discovered
	for desc, n := range counts {
		if n < minCount {
			continue
		}
		found = append(found, Discovered{
			Occurrences: n,
			Rule: model.EnhancementRule{
				Pattern:   desc,
				MatchType: model.MatchExact,
				Source:    model.SourceManual,
			},
		})
	}
	sort.Slice(found, func(a, b int) bool {
		if found[a].Occurrences != found[b].Occurrences {
			return found[a].Occurrences > found[b].Occurrences
		}
		return found[a].Rule.Pattern < found[b].Rule.Pattern
	})

	if opts.DryRun {
		return found, nil
	}

	created := found[:0]
	for _, d := range found {
		rule := d.Rule
		if err := pattern.Prepare(&rule); err != nil {
			return nil, err
		}
		if err := i.store.CreateRule(ctx, &rule); err != nil {
			if errors.Is(err, common.ErrDuplicateRule) {
				continue
			}
			return nil, fmt.Errorf("failed to create discovered rule: %w", err)
		}
		d.Rule = rule
		created = append(created, d)
	}

	i.logger.Info("Discovered rule candidates", "created", len(created), "min_occurrences", minCount)
	return created, nil
}
