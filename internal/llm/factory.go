package llm

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/spice-rules/internal/config"
	"github.com/Veraticus/spice-rules/internal/service"
)

// NewClient creates a raw language model client for the configured provider.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIClient(cfg)
	case "anthropic":
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// ConfigFrom converts loaded settings into a provider config.
func ConfigFrom(cfg config.LLMConfig) Config {
	return Config{
		Provider:    cfg.Provider,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
}

// NewSuggestionProvider creates the configured category suggestion provider.
// The "bayes" provider learns from history and needs no API key.
func NewSuggestionProvider(cfg Config, history HistorySource, logger *slog.Logger) (service.CategorySuggestionProvider, error) {
	name := strings.ToLower(cfg.Provider)
	if name == "" || name == bayesProviderName {
		if history == nil {
			return nil, fmt.Errorf("bayes provider needs a transaction history")
		}
		return NewBayesProvider(history), nil
	}

	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return NewProvider(name, client, 0, logger), nil
}
