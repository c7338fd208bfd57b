package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/config"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/jobs"
	"github.com/Veraticus/spice-rules/internal/jobs/boltstore"
	"github.com/Veraticus/spice-rules/internal/llm"
	"github.com/Veraticus/spice-rules/internal/recurring"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/Veraticus/spice-rules/internal/storage"
	"github.com/Veraticus/spice-rules/internal/suggest"
)

const dateLayout = "2006-01-02"

// app bundles the collaborators every command needs.
type app struct {
	store  *storage.SQLiteStorage
	engine *engine.Enhancer
	logger *slog.Logger
	cfg    config.EngineConfig
	llm    config.LLMConfig
}

// openApp loads configuration, opens the database and runs migrations.
func openApp(ctx context.Context) (*app, error) {
	cfg, llmCfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, common.NewUserError("invalid configuration", err)
	}

	dbPath := config.DatabasePath(viper.GetViper())
	if err := config.EnsureParentDir(dbPath); err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger := slog.Default()
	return &app{
		store:  store,
		engine: engine.New(store, store, engine.Config{Logger: logger, Workers: cfg.WorkerCount}),
		logger: logger,
		cfg:    cfg,
		llm:    llmCfg,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close database", "error", err)
	}
}

// integrator builds the suggestion integrator around the configured provider.
func (a *app) integrator() (*suggest.Integrator, error) {
	provider, err := llm.NewSuggestionProvider(llm.ConfigFrom(a.llm), a.store, a.logger)
	if err != nil {
		return nil, common.NewUserError("could not set up suggestion provider", err)
	}
	return suggest.New(a.store, provider, a.engine, suggest.ConfigFrom(a.cfg, a.logger)), nil
}

func (a *app) recurring() *recurring.Service {
	return recurring.NewService(a.store, recurring.NewDetector(a.cfg, time.Now), a.logger)
}

// openJobStore opens the job record database next to the main database.
func openJobStore() (*boltstore.Store, error) {
	path := config.JobsPath(viper.GetViper())
	store, err := boltstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return store, nil
}

// startCoordinator starts a coordinator whose workers outlive ctx so an
// interrupt can still drain what was queued.
func (a *app) startCoordinator(ctx context.Context, store jobs.Store) (*jobs.Coordinator, error) {
	coord := jobs.NewCoordinator(a.engine, store, jobs.ConfigFrom(a.cfg, a.logger))
	if err := coord.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	return coord, nil
}

// categoryID resolves a category by numeric ID or case-sensitive name.
func (a *app) categoryID(ctx context.Context, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if _, err := a.store.GetCategory(ctx, id); err != nil {
			return 0, common.NewUserError(fmt.Sprintf("category %d does not exist", id), err)
		}
		return id, nil
	}
	cat, err := a.store.GetCategoryByName(ctx, ref)
	if err != nil {
		return 0, common.NewUserError(fmt.Sprintf("category %q does not exist", ref), err)
	}
	return cat.ID, nil
}

// accountID resolves a counterparty account by numeric ID or name.
func (a *app) accountID(ctx context.Context, ref string) (int64, error) {
	accounts, err := a.store.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	id, numeric := strconv.ParseInt(ref, 10, 64)
	for _, acct := range accounts {
		if (numeric == nil && acct.ID == id) || strings.EqualFold(acct.Name, ref) {
			return acct.ID, nil
		}
	}
	return 0, common.NewUserError(fmt.Sprintf("account %q does not exist", ref), common.ErrNotFound)
}

// categoryNames maps category IDs to names for display.
func (a *app) categoryNames(ctx context.Context) (map[int64]string, error) {
	categories, err := a.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	names := make(map[int64]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names, nil
}

func nameOf(names map[int64]string, id *int64) string {
	if id == nil {
		return "-"
	}
	if name, ok := names[*id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", *id)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, common.NewUserError(fmt.Sprintf("%q is not a valid ID", s), err)
	}
	return id, nil
}

// dateRange parses optional YYYY-MM-DD bounds. The end bound covers the whole
// day.
func dateRange(from, to string) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if from != "" {
		parsed, err := time.Parse(dateLayout, from)
		if err != nil {
			return nil, nil, common.NewUserError("invalid from date format (use YYYY-MM-DD)", err)
		}
		start = &parsed
	}
	if to != "" {
		parsed, err := time.Parse(dateLayout, to)
		if err != nil {
			return nil, nil, common.NewUserError("invalid to date format (use YYYY-MM-DD)", err)
		}
		endOfDay := parsed.Add(24*time.Hour - time.Nanosecond)
		end = &endOfDay
	}
	if start != nil && end != nil && start.After(*end) {
		return nil, nil, common.NewUserError("from date must be before to date", common.ErrInvalidConfig)
	}
	return start, end, nil
}

// filterFlags are the transaction filters shared by bulk commands.
type filterFlags struct {
	from     string
	to       string
	category string
	account  string
}

func (f filterFlags) build(ctx context.Context, a *app) (service.TransactionFilter, error) {
	var filter service.TransactionFilter
	start, end, err := dateRange(f.from, f.to)
	if err != nil {
		return filter, err
	}
	filter.StartDate, filter.EndDate = start, end
	filter.AccountID = f.account

	if f.category != "" {
		id, err := a.categoryID(ctx, f.category)
		if err != nil {
			return filter, err
		}
		filter.CategoryID = &id
	}
	return filter, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
