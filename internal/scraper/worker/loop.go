package worker

import (
	"context"
	"sync/atomic"
	"time"

	"ojscraper/internal/scraper/model"
	"ojscraper/internal/scraper/stats"
	"ojscraper/internal/scraper/transport"
	appErr "ojscraper/pkg/errors"
	"ojscraper/pkg/utils/contextkey"
	"ojscraper/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultIdleBackoff   = 5 * time.Second
	DefaultShutdownGrace = 30 * time.Second
	maxLoggedAckBytes    = 512
)

// State is the orchestrator's current phase.
type State int32

const (
	StateAwaitingWork State = iota
	StateProcessing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAwaitingWork:
		return "awaiting_work"
	case StateProcessing:
		return "processing"
	default:
		return "stopped"
	}
}

// Coordinator hands out batches and accepts reports.
type Coordinator interface {
	FetchWork(ctx context.Context) ([]int64, error)
	Submit(ctx context.Context, report model.Report) (interface{}, []byte, error)
}

// BatchProcessor turns a batch into a report.
type BatchProcessor interface {
	Process(ctx context.Context, batch []int64) model.Report
}

// Config holds loop settings.
type Config struct {
	WorkerID      string
	IdleBackoff   time.Duration
	ShutdownGrace time.Duration
}

// Loop polls the coordinator, processes each batch and reports it back, one
// batch at a time, until its context is cancelled.
type Loop struct {
	coordinator   Coordinator
	processor     BatchProcessor
	counters      *stats.Counters
	reporter      *stats.Reporter
	workerID      string
	idleBackoff   time.Duration
	shutdownGrace time.Duration
	sleep         transport.SleepFunc
	state         atomic.Int32
}

// Option customizes a Loop.
type Option func(*Loop)

// WithSleep replaces the backoff sleep.
func WithSleep(fn transport.SleepFunc) Option {
	return func(l *Loop) {
		if fn != nil {
			l.sleep = fn
		}
	}
}

// WithReporter flushes stats after every batch.
func WithReporter(r *stats.Reporter) Option {
	return func(l *Loop) {
		l.reporter = r
	}
}

func NewLoop(cfg Config, coord Coordinator, processor BatchProcessor, counters *stats.Counters, opts ...Option) (*Loop, error) {
	if coord == nil {
		return nil, appErr.New(appErr.InvalidConfig).WithMessage("coordinator is required")
	}
	if processor == nil {
		return nil, appErr.New(appErr.InvalidConfig).WithMessage("batch processor is required")
	}
	if counters == nil {
		counters = &stats.Counters{}
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	idle := cfg.IdleBackoff
	if idle <= 0 {
		idle = DefaultIdleBackoff
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	l := &Loop{
		coordinator:   coord,
		processor:     processor,
		counters:      counters,
		workerID:      workerID,
		idleBackoff:   idle,
		shutdownGrace: grace,
		sleep:         transport.SleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// WorkerID identifies this worker in logs and mirrored stats.
func (l *Loop) WorkerID() string {
	return l.workerID
}

// State returns the current phase.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run blocks until ctx is cancelled. A batch already being processed is
// finished and reported within the shutdown grace period before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	ctx = context.WithValue(ctx, contextkey.WorkerID, l.workerID)
	logger.Info(ctx, "scrape worker loop started", zap.Duration("idle_backoff", l.idleBackoff))
	defer l.state.Store(int32(StateStopped))

	for {
		if err := ctx.Err(); err != nil {
			logger.Info(ctx, "scrape worker loop stopped")
			return err
		}
		batch, ok := l.awaitWork(ctx)
		if !ok {
			continue
		}
		l.processBatch(ctx, batch)
	}
}

// awaitWork polls once. It returns false after backing off on a failed poll
// or an empty batch.
func (l *Loop) awaitWork(ctx context.Context) ([]int64, bool) {
	l.state.Store(int32(StateAwaitingWork))
	l.counters.Polls.Add(1)

	ids, err := l.coordinator.FetchWork(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		if appErr.Is(err, appErr.DecodeFailed) {
			l.counters.DecodeFailures.Add(1)
		}
		logger.Error(ctx, "poll for work failed", zap.Error(err))
		_ = l.sleep(ctx, l.idleBackoff)
		return nil, false
	}
	if len(ids) == 0 {
		l.counters.IdlePolls.Add(1)
		logger.Info(ctx, "no work available, sleeping", zap.Duration("backoff", l.idleBackoff))
		_ = l.sleep(ctx, l.idleBackoff)
		return nil, false
	}
	logger.Info(ctx, "got work from coordinator", zap.Int("ids", len(ids)))
	return ids, true
}

func (l *Loop) processBatch(ctx context.Context, batch []int64) {
	l.state.Store(int32(StateProcessing))
	batchCtx, cancel := withGrace(ctx, l.shutdownGrace)
	defer cancel()
	batchCtx = context.WithValue(batchCtx, contextkey.BatchID, uuid.NewString())

	start := time.Now()
	report := l.processor.Process(batchCtx, batch)
	l.counters.RecordReport(report)
	logger.Info(batchCtx, "batch processed",
		zap.Int("size", len(batch)),
		zap.Int("found", len(report.Submissions)),
		zap.Int("not_found", len(report.NotFound)),
		zap.Int("dropped", report.Dropped),
		zap.Duration("elapsed", time.Since(start)),
	)

	ack, raw, err := l.coordinator.Submit(batchCtx, report)
	switch {
	case err == nil:
		l.counters.Acks.Add(1)
		logger.Info(batchCtx, "submitted batch", zap.Any("ack", ack))
	case appErr.Is(err, appErr.DecodeFailed):
		l.counters.Acks.Add(1)
		l.counters.AckDecodeErrors.Add(1)
		logger.Warn(batchCtx, "submitted batch but got invalid response",
			zap.ByteString("body", truncate(raw, maxLoggedAckBytes)), zap.Error(err))
	default:
		logger.Error(batchCtx, "batch report abandoned", zap.Error(err))
	}

	if l.reporter != nil {
		_ = l.reporter.Flush(batchCtx)
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
