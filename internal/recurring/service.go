package recurring

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

const maxCachedResults = 32

// Fetcher reads the transactions a detection run looks at.
type Fetcher interface {
	Fetch(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error)
}

// Filter narrows the history a detection run looks at.
type Filter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	CategoryID *int64
	AccountID  string
	ActiveOnly bool
}

type cachedResult struct {
	result Result
}

// Service runs the detector over stored history. Identical requests over
// unchanged data reuse the previous result.
type Service struct {
	fetcher  Fetcher
	detector *Detector
	logger   *slog.Logger
	cache    map[string]cachedResult
	mu       sync.Mutex
}

// NewService creates a detection service.
func NewService(fetcher Fetcher, detector *Detector, logger *slog.Logger) *Service {
	return &Service{
		fetcher:  fetcher,
		detector: detector,
		logger:   common.LoggerOrDefault(logger),
		cache:    make(map[string]cachedResult),
	}
}

// Detect returns the recurring patterns within filter.
func (s *Service) Detect(ctx context.Context, filter Filter) (Result, error) {
	txns, err := s.fetcher.Fetch(ctx, service.TransactionFilter{
		StartDate:   filter.StartDate,
		EndDate:     filter.EndDate,
		CategoryID:  filter.CategoryID,
		AccountID:   filter.AccountID,
		Categorized: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	key := filterSignature(filter) + "|" + strconv.FormatInt(dayNumber(s.detector.now()), 10) + "|" + fingerprint(txns)

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		s.logger.Debug("Reusing recurring patterns", "patterns", len(cached.result.Patterns))
		return cloneResult(cached.result), nil
	}
	s.mu.Unlock()

	result := s.detector.Detect(txns, Options{ActiveOnly: filter.ActiveOnly})
	s.logger.Debug("Detected recurring patterns",
		"transactions", len(txns),
		"patterns", len(result.Patterns))

	s.mu.Lock()
	if len(s.cache) >= maxCachedResults {
		clear(s.cache)
	}
	s.cache[key] = cachedResult{result: cloneResult(result)}
	s.mu.Unlock()

	return result, nil
}

func (s *Service) cached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func filterSignature(f Filter) string {
	date := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format("2006-01-02")
	}
	category := "-"
	if f.CategoryID != nil {
		category = strconv.FormatInt(*f.CategoryID, 10)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%t", date(f.StartDate), date(f.EndDate), category, f.AccountID, f.ActiveOnly)
}

// fingerprint hashes every field the detector reads.
func fingerprint(txns []model.Transaction) string {
	h := fnv.New64a()
	for _, txn := range txns {
		category := int64(-1)
		if txn.CategoryID != nil {
			category = *txn.CategoryID
		}
		fmt.Fprintf(h, "%s|%s|%s|%d|%.2f|%s\n",
			txn.ID, txn.NormalizedDescription, txn.Date.Format("2006-01-02"), category, txn.Amount, txn.Status)
	}
	return strconv.Itoa(len(txns)) + ":" + strconv.FormatUint(h.Sum64(), 16)
}

func cloneResult(r Result) Result {
	out := Result{
		Patterns: make([]model.RecurringPattern, len(r.Patterns)),
		Summary:  r.Summary,
	}
	copy(out.Patterns, r.Patterns)
	out.Summary.CountByType = maps.Clone(r.Summary.CountByType)
	return out
}
