package llm

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/service"
)

// Provider turns a language model Client into a category suggestion
// provider. Answers are cached per pattern and category set.
type Provider struct {
	client Client
	cache  *suggestionCache
	logger *slog.Logger
	name   string
}

var _ service.CategorySuggestionProvider = (*Provider)(nil)

// NewProvider wraps client. cacheTTL of zero uses the default.
func NewProvider(name string, client Client, cacheTTL time.Duration, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		cache:  newSuggestionCache(cacheTTL),
		logger: common.LoggerOrDefault(logger),
		name:   name,
	}
}

// Name returns the provider name used in logs and errors.
func (p *Provider) Name() string {
	return p.name
}

// Suggest asks the model for a category.
func (p *Provider) Suggest(ctx context.Context, req service.SuggestionRequest) (service.CategorySuggestion, error) {
	key := cacheKey(req)
	if cached, ok := p.cache.get(key); ok {
		p.logger.Debug("Using cached suggestion", "pattern", req.Pattern, "category", cached.Category)
		return cached, nil
	}

	reply, err := p.client.Complete(ctx, buildPrompt(req))
	if err != nil {
		return service.CategorySuggestion{}, common.NewProviderError(p.name, err)
	}

	suggestion, err := parseSuggestion(reply)
	if err != nil {
		p.logger.Debug("Unparseable provider reply", "pattern", req.Pattern, "reply", reply)
		return service.CategorySuggestion{}, common.NewProviderError(p.name, err)
	}

	p.cache.set(key, suggestion)
	return suggestion, nil
}

func cacheKey(req service.SuggestionRequest) string {
	names := make([]string, len(req.Categories))
	for i, c := range req.Categories {
		names[i] = c.Name
	}
	sort.Strings(names)
	return string(req.MatchType) + "|" + req.Pattern + "|" + strings.Join(names, ",")
}
