package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/spf13/viper"
)

// Engine defaults.
const (
	// DefaultAutoApplyThreshold is the confidence at or above which an AI
	// suggestion is applied without review.
	DefaultAutoApplyThreshold = 0.8

	// DefaultTolerance widens every recurrence bucket and the active window.
	DefaultTolerance = 0.15

	DefaultSyncBudget            = 2 * time.Second
	DefaultWorkerCount           = 4
	DefaultQueueBuffer           = 64
	DefaultProviderConcurrency   = 4
	DefaultProviderTimeout       = 20 * time.Second
	DefaultProviderRatePerMinute = 60
	DefaultDiscoverMinOccurrence = 2

	DefaultDatabasePath = "$HOME/.local/share/spice/spice.db"
	DefaultJobsPath     = "$HOME/.local/share/spice/jobs.db"
)

// Bucket is an inclusive day range for a recurrence type.
type Bucket struct {
	Name    string
	MinDays float64
	MaxDays float64
	// PerYear is how many occurrences one year holds.
	PerYear float64
}

// DefaultBuckets returns the recurrence buckets in ascending order.
func DefaultBuckets() []Bucket {
	return []Bucket{
		{Name: "MONTHLY", MinDays: 28, MaxDays: 31, PerYear: 12},
		{Name: "QUARTERLY", MinDays: 89, MaxDays: 92, PerYear: 4},
		{Name: "YEARLY", MinDays: 360, MaxDays: 370, PerYear: 1},
	}
}

// EngineConfig holds the tunables of the enhancement engine.
type EngineConfig struct {
	Buckets               []Bucket
	AutoApplyThreshold    float64
	Tolerance             float64
	SyncBudget            time.Duration
	ProviderTimeout       time.Duration
	WorkerCount           int
	QueueBuffer           int
	ProviderConcurrency   int
	ProviderRatePerMinute int
	DiscoverMinOccurrence int
}

// DefaultEngineConfig returns the engine configuration with every default applied.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AutoApplyThreshold:    DefaultAutoApplyThreshold,
		Tolerance:             DefaultTolerance,
		Buckets:               DefaultBuckets(),
		SyncBudget:            DefaultSyncBudget,
		WorkerCount:           DefaultWorkerCount,
		QueueBuffer:           DefaultQueueBuffer,
		ProviderConcurrency:   DefaultProviderConcurrency,
		ProviderTimeout:       DefaultProviderTimeout,
		ProviderRatePerMinute: DefaultProviderRatePerMinute,
		DiscoverMinOccurrence: DefaultDiscoverMinOccurrence,
	}
}

// Validate checks that the configuration is usable.
func (c EngineConfig) Validate() error {
	if c.AutoApplyThreshold <= 0 || c.AutoApplyThreshold > 1 {
		return fmt.Errorf("%w: auto_apply_threshold must be in (0, 1], got %v", common.ErrInvalidConfig, c.AutoApplyThreshold)
	}
	if c.Tolerance < 0 || c.Tolerance >= 1 {
		return fmt.Errorf("%w: tolerance must be in [0, 1), got %v", common.ErrInvalidConfig, c.Tolerance)
	}
	if c.SyncBudget < 0 {
		return fmt.Errorf("%w: sync_budget must not be negative", common.ErrInvalidConfig)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be at least 1", common.ErrInvalidConfig)
	}
	if c.ProviderConcurrency < 1 {
		return fmt.Errorf("%w: provider concurrency must be at least 1", common.ErrInvalidConfig)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("%w: provider timeout must be positive", common.ErrInvalidConfig)
	}
	if len(c.Buckets) == 0 {
		return fmt.Errorf("%w: no recurrence buckets", common.ErrInvalidConfig)
	}
	for _, b := range c.Buckets {
		if b.MinDays <= 0 || b.MaxDays < b.MinDays || b.PerYear <= 0 {
			return fmt.Errorf("%w: bad bucket %q", common.ErrInvalidConfig, b.Name)
		}
	}
	return nil
}

// LLMConfig selects and configures the category suggestion provider.
type LLMConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// Load reads the engine and provider configuration from v.
// Precedence: viper (config file or SPICE_ env vars), then direct provider
// environment variables, then defaults.
func Load(v *viper.Viper) (EngineConfig, LLMConfig, error) {
	cfg := DefaultEngineConfig()

	if v.IsSet("engine.auto_apply_threshold") {
		cfg.AutoApplyThreshold = v.GetFloat64("engine.auto_apply_threshold")
	}
	if v.IsSet("engine.tolerance") {
		cfg.Tolerance = v.GetFloat64("engine.tolerance")
	}
	if v.IsSet("engine.sync_budget") {
		cfg.SyncBudget = v.GetDuration("engine.sync_budget")
	}
	if v.IsSet("engine.workers") {
		cfg.WorkerCount = v.GetInt("engine.workers")
	}
	if v.IsSet("engine.queue_buffer") {
		cfg.QueueBuffer = v.GetInt("engine.queue_buffer")
	}
	if v.IsSet("engine.discover_min_occurrences") {
		cfg.DiscoverMinOccurrence = v.GetInt("engine.discover_min_occurrences")
	}
	if v.IsSet("llm.concurrency") {
		cfg.ProviderConcurrency = v.GetInt("llm.concurrency")
	}
	if v.IsSet("llm.timeout") {
		cfg.ProviderTimeout = v.GetDuration("llm.timeout")
	}
	if v.IsSet("llm.rate_limit") {
		cfg.ProviderRatePerMinute = v.GetInt("llm.rate_limit")
	}

	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, LLMConfig{}, err
	}

	llm := LLMConfig{
		Provider:    v.GetString("llm.provider"),
		APIKey:      v.GetString("llm.api_key"),
		Model:       v.GetString("llm.model"),
		BaseURL:     v.GetString("llm.base_url"),
		MaxTokens:   v.GetInt("llm.max_tokens"),
		Temperature: v.GetFloat64("llm.temperature"),
	}
	if llm.Provider == "" {
		llm.Provider = "bayes"
	}

	if llm.APIKey == "" {
		switch llm.Provider {
		case "anthropic":
			llm.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			llm.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if llm.MaxTokens == 0 {
		llm.MaxTokens = 256
	}

	return cfg, llm, nil
}

// DatabasePath returns the expanded SQLite database path.
func DatabasePath(v *viper.Viper) string {
	p := v.GetString("database.path")
	if p == "" {
		p = DefaultDatabasePath
	}
	return ExpandPath(p)
}

// JobsPath returns the expanded path of the job record store.
func JobsPath(v *viper.Viper) string {
	p := v.GetString("jobs.path")
	if p == "" {
		p = DefaultJobsPath
	}
	return ExpandPath(p)
}
