package jobs

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/config"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/pattern"
)

// Categorizer assigns categories against a rule snapshot.
type Categorizer interface {
	Snapshot(ctx context.Context) (*pattern.RuleMatcher, error)
	Categorize(ctx context.Context, matcher *pattern.RuleMatcher, txn model.Transaction) engine.Result
}

// IngestResult reports what Process did synchronously and, when the budget
// ran out, the job handling the rest.
type IngestResult struct {
	Job *Status
	engine.Summary
}

// Config tunes the coordinator.
type Config struct {
	Logger *slog.Logger
	// Now is the clock used for the synchronous budget and job timestamps.
	Now         func() time.Time
	SyncBudget  time.Duration
	Workers     int
	QueueBuffer int
}

// ConfigFrom builds coordinator settings from the engine configuration.
func ConfigFrom(cfg config.EngineConfig, logger *slog.Logger) Config {
	return Config{
		Logger:      logger,
		SyncBudget:  cfg.SyncBudget,
		Workers:     cfg.WorkerCount,
		QueueBuffer: cfg.QueueBuffer,
	}
}

// task is one partition of a job. Each transaction belongs to exactly one task.
type task struct {
	job     *job
	matcher *pattern.RuleMatcher
	txns    []model.Transaction
}

// Coordinator categorizes ingested transactions within a time budget and
// hands the remainder to a pool of workers.
type Coordinator struct {
	categorizer Categorizer
	store       Store
	logger      *slog.Logger
	now         func() time.Time
	queue       chan task
	stopping    chan struct{}
	active      map[string]*job
	budget      time.Duration
	workers     int
	wg          sync.WaitGroup
	mu          sync.RWMutex
	stopOnce    sync.Once
	started     bool
	closed      bool
}

// NewCoordinator creates a coordinator. Call Start before Process so that
// queued work has workers to run it.
func NewCoordinator(categorizer Categorizer, store Store, cfg Config) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultWorkerCount
	}
	if cfg.QueueBuffer <= 0 {
		cfg.QueueBuffer = config.DefaultQueueBuffer
	}
	return &Coordinator{
		categorizer: categorizer,
		store:       store,
		logger:      common.LoggerOrDefault(cfg.Logger),
		now:         cfg.Now,
		queue:       make(chan task, cfg.QueueBuffer),
		stopping:    make(chan struct{}),
		active:      make(map[string]*job),
		budget:      cfg.SyncBudget,
		workers:     cfg.Workers,
	}
}

// Start launches the worker pool. Workers run until Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return common.ErrQueueClosed
	}
	if c.started {
		return fmt.Errorf("coordinator already started")
	}
	c.started = true

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	c.logger.Debug("Started job workers", "workers", c.workers)
	return nil
}

// Stop refuses new work, lets the workers finish the queued tasks and waits
// for them until ctx is done.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopping) })

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process categorizes txns against a single rule snapshot. Transactions are
// handled inline until the sync budget is spent; the rest become a job.
func (c *Coordinator) Process(ctx context.Context, txns []model.Transaction) (IngestResult, error) {
	var result IngestResult
	if len(txns) == 0 {
		return result, nil
	}

	matcher, err := c.categorizer.Snapshot(ctx)
	if err != nil {
		return result, err
	}

	start := c.now()
	i := 0
	for ; i < len(txns); i++ {
		if c.now().Sub(start) >= c.budget {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Add(c.categorizer.Categorize(ctx, matcher, txns[i]))
	}

	rest := txns[i:]
	if len(rest) == 0 {
		return result, nil
	}

	status := c.submit(ctx, matcher, rest)
	result.Job = &status
	c.logger.Info("Queued background categorization",
		"job_id", status.ID,
		"synchronous", result.Processed,
		"queued", len(rest))
	return result, nil
}

// Status returns live counters for a job this process is running, otherwise
// the stored record.
func (c *Coordinator) Status(ctx context.Context, id string) (Status, error) {
	c.mu.RLock()
	j, ok := c.active[id]
	c.mu.RUnlock()
	if ok {
		return j.status(), nil
	}
	return c.store.Get(ctx, id)
}

// Wait blocks until the job reaches a terminal state or ctx is done, polling
// at interval.
func (c *Coordinator) Wait(ctx context.Context, id string, interval time.Duration, progress func(Status)) (Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, id)
		if err != nil {
			return Status{}, err
		}
		if progress != nil {
			progress(status)
		}
		if status.State.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) submit(ctx context.Context, matcher *pattern.RuleMatcher, txns []model.Transaction) Status {
	j := newJob(uuid.NewString(), len(txns), c.now())

	c.mu.Lock()
	c.active[j.id] = j
	c.mu.Unlock()
	c.persist(ctx, j)

	for _, part := range partition(txns, c.workers) {
		if len(part) == 0 {
			continue
		}
		if err := c.enqueue(ctx, task{job: j, matcher: matcher, txns: part}); err != nil {
			c.fail(ctx, j, err)
			break
		}
	}
	return j.status()
}

func (c *Coordinator) enqueue(ctx context.Context, t task) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return common.ErrQueueClosed
	}
	select {
	case c.queue <- t:
		return nil
	case <-c.stopping:
		return common.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	for t := range c.queue {
		c.run(ctx, id, t)
	}
}

func (c *Coordinator) run(ctx context.Context, worker int, t task) {
	j := t.job
	if j.state.CompareAndSwap(codePending, codeRunning) {
		j.markStarted(c.now())
		c.persist(ctx, j)
	}

	for _, txn := range t.txns {
		res := c.categorizer.Categorize(ctx, t.matcher, txn)
		if res.Outcome == engine.OutcomeFailed {
			j.failed.Add(1)
			c.logger.Debug("Background categorization failed",
				"job_id", j.id,
				"worker", worker,
				"transaction_id", txn.ID,
				"error", res.Err)
		}
		j.processed.Add(1)
		if j.remaining.Add(-1) == 0 {
			c.complete(ctx, j)
			return
		}
	}
	c.persist(ctx, j)
}

func (c *Coordinator) complete(ctx context.Context, j *job) {
	if !j.state.CompareAndSwap(codeRunning, codeCompleted) {
		return
	}
	j.finish(c.now(), "")
	c.persist(ctx, j)
	c.forget(j)

	s := j.status()
	c.logger.Info("Background categorization finished",
		"job_id", s.ID,
		"processed", s.Processed,
		"failed", s.Failed)
}

func (c *Coordinator) fail(ctx context.Context, j *job, err error) {
	for {
		cur := j.state.Load()
		if cur == codeCompleted || cur == codeFailed {
			return
		}
		if j.state.CompareAndSwap(cur, codeFailed) {
			break
		}
	}
	j.finish(c.now(), err.Error())
	c.persist(ctx, j)
	c.forget(j)
	c.logger.Warn("Background job failed", "job_id", j.id, "error", err)
}

func (c *Coordinator) forget(j *job) {
	c.mu.Lock()
	delete(c.active, j.id)
	c.mu.Unlock()
}

// persist saves the job record. Saves of one job are serialized and nothing
// is written after a terminal record. Failures are logged; the live counters
// stay authoritative while the job runs.
func (c *Coordinator) persist(ctx context.Context, j *job) {
	j.saveMu.Lock()
	defer j.saveMu.Unlock()
	if j.savedTerminal {
		return
	}

	s := j.status()
	if err := c.store.Save(context.WithoutCancel(ctx), s); err != nil {
		c.logger.Warn("Failed to save job record", "job_id", j.id, "error", err)
		return
	}
	j.savedTerminal = s.State.Terminal()
}

// partition spreads txns over n buckets by a stable hash of the transaction
// ID so one transaction is only ever handled by one worker.
func partition(txns []model.Transaction, n int) [][]model.Transaction {
	parts := make([][]model.Transaction, n)
	for _, txn := range txns {
		h := fnv.New32a()
		_, _ = h.Write([]byte(txn.ID))
		idx := h.Sum32() % uint32(n)
		parts[idx] = append(parts[idx], txn)
	}
	return parts
}

const (
	codePending int32 = iota
	codeRunning
	codeCompleted
	codeFailed
)

var stateNames = [...]State{
	codePending:   StatePending,
	codeRunning:   StateRunning,
	codeCompleted: StateCompleted,
	codeFailed:    StateFailed,
}

// job holds the live counters of a running job.
type job struct {
	createdAt     time.Time
	startedAt     *time.Time
	completedAt   *time.Time
	id            string
	errMsg        string
	total         int
	processed     atomic.Int64
	remaining     atomic.Int64
	failed        atomic.Int64
	state         atomic.Int32
	mu            sync.Mutex
	saveMu        sync.Mutex
	savedTerminal bool
}

func newJob(id string, total int, now time.Time) *job {
	j := &job{id: id, total: total, createdAt: now}
	j.remaining.Store(int64(total))
	return j
}

func (j *job) markStarted(t time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startedAt == nil {
		j.startedAt = &t
	}
}

func (j *job) finish(t time.Time, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completedAt = &t
	j.errMsg = errMsg
}

func (j *job) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Status{
		ID:        j.id,
		State:     stateNames[j.state.Load()],
		Total:     j.total,
		Processed: int(j.processed.Load()),
		Remaining: int(j.remaining.Load()),
		Failed:    int(j.failed.Load()),
		CreatedAt: j.createdAt,
		Error:     j.errMsg,
	}
	if j.startedAt != nil {
		t := *j.startedAt
		s.StartedAt = &t
	}
	if j.completedAt != nil {
		t := *j.completedAt
		s.CompletedAt = &t
	}
	return s
}
