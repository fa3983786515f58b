package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ojscraper/internal/common/cache"
	"ojscraper/internal/scraper/model"
	appErr "ojscraper/pkg/errors"
	"ojscraper/pkg/utils/logger"

	"go.uber.org/zap"
)

// Counters are the process-wide tallies kept across batches.
type Counters struct {
	Polls            atomic.Int64
	IdlePolls        atomic.Int64
	DecodeFailures   atomic.Int64
	Batches          atomic.Int64
	Found            atomic.Int64
	NotFound         atomic.Int64
	Dropped          atomic.Int64
	TransportRetries atomic.Int64
	Acks             atomic.Int64
	AckDecodeErrors  atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Polls            int64 `json:"polls"`
	IdlePolls        int64 `json:"idle_polls"`
	DecodeFailures   int64 `json:"decode_failures"`
	Batches          int64 `json:"batches"`
	Found            int64 `json:"found"`
	NotFound         int64 `json:"not_found"`
	Dropped          int64 `json:"dropped"`
	TransportRetries int64 `json:"transport_retries"`
	Acks             int64 `json:"acks"`
	AckDecodeErrors  int64 `json:"ack_decode_errors"`
}

// RecordReport adds one batch's outcome totals.
func (c *Counters) RecordReport(r model.Report) {
	c.Batches.Add(1)
	c.Found.Add(int64(len(r.Submissions)))
	c.NotFound.Add(int64(len(r.NotFound)))
	c.Dropped.Add(int64(r.Dropped))
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Polls:            c.Polls.Load(),
		IdlePolls:        c.IdlePolls.Load(),
		DecodeFailures:   c.DecodeFailures.Load(),
		Batches:          c.Batches.Load(),
		Found:            c.Found.Load(),
		NotFound:         c.NotFound.Load(),
		Dropped:          c.Dropped.Load(),
		TransportRetries: c.TransportRetries.Load(),
		Acks:             c.Acks.Load(),
		AckDecodeErrors:  c.AckDecodeErrors.Load(),
	}
}

// Sub returns s - prev field by field.
func (s Snapshot) Sub(prev Snapshot) Snapshot {
	return Snapshot{
		Polls:            s.Polls - prev.Polls,
		IdlePolls:        s.IdlePolls - prev.IdlePolls,
		DecodeFailures:   s.DecodeFailures - prev.DecodeFailures,
		Batches:          s.Batches - prev.Batches,
		Found:            s.Found - prev.Found,
		NotFound:         s.NotFound - prev.NotFound,
		Dropped:          s.Dropped - prev.Dropped,
		TransportRetries: s.TransportRetries - prev.TransportRetries,
		Acks:             s.Acks - prev.Acks,
		AckDecodeErrors:  s.AckDecodeErrors - prev.AckDecodeErrors,
	}
}

// Fields maps the snapshot onto hash field names.
func (s Snapshot) Fields() map[string]int64 {
	return map[string]int64{
		"polls":             s.Polls,
		"idle_polls":        s.IdlePolls,
		"decode_failures":   s.DecodeFailures,
		"batches":           s.Batches,
		"found":             s.Found,
		"not_found":         s.NotFound,
		"dropped":           s.Dropped,
		"transport_retries": s.TransportRetries,
		"acks":              s.Acks,
		"ack_decode_errors": s.AckDecodeErrors,
	}
}

// Reporter logs running totals and optionally mirrors per-flush deltas into a
// Redis hash named "<keyPrefix>:<workerID>".
type Reporter struct {
	counters *Counters
	store    cache.CounterStore
	key      string
	timeout  time.Duration
	ttl      time.Duration

	mu   sync.Mutex
	last Snapshot
}

// ReporterConfig configures the optional counter mirror.
type ReporterConfig struct {
	Store     cache.CounterStore
	KeyPrefix string
	WorkerID  string
	Timeout   time.Duration
	TTL       time.Duration
}

func NewReporter(counters *Counters, cfg ReporterConfig) *Reporter {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ojscraper:worker"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Reporter{
		counters: counters,
		store:    cfg.Store,
		key:      prefix + ":" + cfg.WorkerID,
		timeout:  timeout,
		ttl:      cfg.TTL,
	}
}

// Key returns the hash key counters are mirrored into.
func (r *Reporter) Key() string {
	return r.key
}

// Flush logs the totals and pushes the delta since the previous successful
// flush. Mirror failures are logged and returned but never fatal; the delta is
// carried over to the next flush.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.counters.Snapshot()
	logger.Info(ctx, "worker stats",
		zap.Int64("batches", now.Batches),
		zap.Int64("found", now.Found),
		zap.Int64("not_found", now.NotFound),
		zap.Int64("dropped", now.Dropped),
		zap.Int64("idle_polls", now.IdlePolls),
		zap.Int64("transport_retries", now.TransportRetries),
	)
	if r.store == nil {
		r.last = now
		return nil
	}

	mirrorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.HIncrByMany(mirrorCtx, r.key, now.Sub(r.last).Fields()); err != nil {
		wrapped := appErr.Wrapf(err, appErr.CacheError, "mirror stats failed")
		logger.Warn(ctx, "mirror stats failed", zap.String("key", r.key), zap.Error(wrapped))
		return wrapped
	}
	if r.ttl > 0 {
		if err := r.store.Expire(mirrorCtx, r.key, r.ttl); err != nil {
			logger.Warn(ctx, "expire stats key failed", zap.String("key", r.key), zap.Error(err))
		}
	}
	r.last = now
	return nil
}
