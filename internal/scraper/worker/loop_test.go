package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ojscraper/internal/scraper/model"
	"ojscraper/internal/scraper/stats"
	"ojscraper/internal/testutil"
	appErr "ojscraper/pkg/errors"
	"ojscraper/pkg/utils/contextkey"
	"ojscraper/pkg/utils/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type pollResult struct {
	ids []int64
	err error
}

// scriptedCoordinator answers polls from a script and cancels the run once
// the script is exhausted.
type scriptedCoordinator struct {
	mu        sync.Mutex
	polls     []pollResult
	cancel    context.CancelFunc
	submitted []model.Report
	submitCtx []context.Context
	liveAtAck []bool
	ackErr    error
}

func (c *scriptedCoordinator) FetchWork(ctx context.Context) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.polls) == 0 {
		c.cancel()
		return nil, ctx.Err()
	}
	next := c.polls[0]
	c.polls = c.polls[1:]
	return next.ids, next.err
}

func (c *scriptedCoordinator) Submit(ctx context.Context, report model.Report) (interface{}, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, report)
	c.submitCtx = append(c.submitCtx, ctx)
	c.liveAtAck = append(c.liveAtAck, ctx.Err() == nil)
	if c.ackErr != nil {
		return nil, []byte("<html>oops</html>"), c.ackErr
	}
	return map[string]interface{}{"inserted": float64(len(report.Submissions))}, []byte(`{"inserted":1}`), nil
}

type stubProcessor struct {
	calls   [][]int64
	ctxs    []context.Context
	onStart func()
}

func (p *stubProcessor) Process(ctx context.Context, batch []int64) model.Report {
	p.calls = append(p.calls, batch)
	p.ctxs = append(p.ctxs, ctx)
	if p.onStart != nil {
		p.onStart()
	}
	report := model.NewReport()
	for i, id := range batch {
		switch i % 3 {
		case 0:
			report.Add(model.Found(model.Record{ID: id, Username: "alice"}))
		case 1:
			report.Add(model.NotFound(id))
		default:
			report.Add(model.Dropped(id))
		}
	}
	return report
}

type sleepLog struct {
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestLoop(t *testing.T, coord *scriptedCoordinator, proc *stubProcessor) (*Loop, *stats.Counters, *sleepLog, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	coord.cancel = cancel
	counters := &stats.Counters{}
	sleeps := &sleepLog{}
	loop, err := NewLoop(Config{WorkerID: "w-1", IdleBackoff: 5 * time.Second}, coord, proc, counters, WithSleep(sleeps.sleep))
	if err != nil {
		t.Fatalf("new loop failed: %v", err)
	}
	return loop, counters, sleeps, ctx
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	prev := logger.SetGlobal(logger.NewWithCore(core))
	t.Cleanup(func() { logger.SetGlobal(prev) })
	return logs
}

func TestRunBacksOffOnEmptyBatch(t *testing.T) {
	logs := observeLogs(t)
	coord := &scriptedCoordinator{polls: []pollResult{{ids: nil}, {ids: []int64{}}}}
	proc := &stubProcessor{}
	loop, counters, sleeps, ctx := newTestLoop(t, coord, proc)

	err := loop.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	testutil.AssertEqual(t, len(proc.calls), 0)
	testutil.AssertEqual(t, len(coord.submitted), 0)
	testutil.AssertEqual(t, len(sleeps.delays), 2)
	for _, d := range sleeps.delays {
		testutil.AssertEqual(t, d, 5*time.Second)
	}
	testutil.AssertEqual(t, counters.Polls.Load(), int64(3))
	testutil.AssertEqual(t, counters.IdlePolls.Load(), int64(2))
	testutil.AssertEqual(t, logs.FilterMessage("no work available, sleeping").Len(), 2)
	testutil.AssertEqual(t, loop.State(), StateStopped)
}

func TestRunBacksOffOnUndecodableWork(t *testing.T) {
	logs := observeLogs(t)
	coord := &scriptedCoordinator{polls: []pollResult{{err: appErr.New(appErr.DecodeFailed)}}}
	proc := &stubProcessor{}
	loop, counters, sleeps, ctx := newTestLoop(t, coord, proc)

	_ = loop.Run(ctx)
	testutil.AssertEqual(t, len(proc.calls), 0)
	testutil.AssertEqual(t, len(sleeps.delays), 1)
	testutil.AssertEqual(t, counters.DecodeFailures.Load(), int64(1))
	entries := logs.FilterMessage("poll for work failed").All()
	testutil.AssertEqual(t, len(entries), 1)
	testutil.AssertEqual(t, entries[0].ContextMap()["worker_id"], "w-1")
}

func TestRunProcessesAndSubmitsBatch(t *testing.T) {
	observeLogs(t)
	coord := &scriptedCoordinator{polls: []pollResult{{ids: []int64{4, 5, 6}}}}
	proc := &stubProcessor{}
	loop, counters, sleeps, ctx := newTestLoop(t, coord, proc)

	_ = loop.Run(ctx)
	testutil.AssertEqual(t, len(proc.calls), 1)
	testutil.AssertEqual(t, len(proc.calls[0]), 3)
	testutil.AssertEqual(t, len(sleeps.delays), 0)
	testutil.AssertEqual(t, len(coord.submitted), 1)

	report := coord.submitted[0]
	testutil.AssertEqual(t, len(report.Submissions), 1)
	testutil.AssertEqual(t, report.Submissions[0].ID, int64(4))
	testutil.AssertEqual(t, len(report.NotFound), 1)
	testutil.AssertEqual(t, report.NotFound[0], int64(5))
	testutil.AssertEqual(t, report.Dropped, 1)

	snap := counters.Snapshot()
	testutil.AssertEqual(t, snap.Batches, int64(1))
	testutil.AssertEqual(t, snap.Found, int64(1))
	testutil.AssertEqual(t, snap.NotFound, int64(1))
	testutil.AssertEqual(t, snap.Dropped, int64(1))
	testutil.AssertEqual(t, snap.Acks, int64(1))
	testutil.AssertEqual(t, snap.AckDecodeErrors, int64(0))

	batchID := proc.ctxs[0].Value(contextkey.BatchID)
	testutil.AssertTrue(t, batchID != nil, "batch id set on processing context")
	testutil.AssertEqual(t, coord.submitCtx[0].Value(contextkey.BatchID), batchID)
	testutil.AssertEqual(t, proc.ctxs[0].Value(contextkey.WorkerID), "w-1")
}

func TestRunToleratesUndecodableAck(t *testing.T) {
	logs := observeLogs(t)
	coord := &scriptedCoordinator{
		polls:  []pollResult{{ids: []int64{1}}, {ids: []int64{2}}},
		ackErr: appErr.New(appErr.DecodeFailed),
	}
	proc := &stubProcessor{}
	loop, counters, _, ctx := newTestLoop(t, coord, proc)

	_ = loop.Run(ctx)
	testutil.AssertEqual(t, len(proc.calls), 2)
	testutil.AssertEqual(t, counters.Acks.Load(), int64(2))
	testutil.AssertEqual(t, counters.AckDecodeErrors.Load(), int64(2))
	testutil.AssertEqual(t, logs.FilterMessage("submitted batch but got invalid response").Len(), 2)
}

func TestRunFinishesBatchAfterShutdownSignal(t *testing.T) {
	observeLogs(t)
	coord := &scriptedCoordinator{polls: []pollResult{{ids: []int64{1, 2}}, {ids: []int64{3}}}}
	proc := &stubProcessor{}
	loop, _, _, ctx := newTestLoop(t, coord, proc)
	proc.onStart = func() {
		coord.cancel()
		testutil.AssertEqual(t, loop.State(), StateProcessing)
	}

	err := loop.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	testutil.AssertEqual(t, len(proc.calls), 1)
	testutil.AssertEqual(t, len(coord.submitted), 1)
	testutil.AssertTrue(t, coord.liveAtAck[0], "report submitted with a live context after shutdown signal")
	testutil.AssertEqual(t, len(coord.polls), 1)
}

func TestRunReturnsImmediatelyWhenCancelled(t *testing.T) {
	coord := &scriptedCoordinator{polls: []pollResult{{ids: []int64{1}}}}
	proc := &stubProcessor{}
	loop, _, _, ctx := newTestLoop(t, coord, proc)
	coord.cancel()

	if err := loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	testutil.AssertEqual(t, len(proc.calls), 0)
}

func TestNewLoopDefaults(t *testing.T) {
	loop, err := NewLoop(Config{}, &scriptedCoordinator{}, &stubProcessor{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertTrue(t, loop.WorkerID() != "", "worker id generated")
	testutil.AssertEqual(t, loop.idleBackoff, DefaultIdleBackoff)
	testutil.AssertEqual(t, loop.shutdownGrace, DefaultShutdownGrace)
	testutil.AssertEqual(t, loop.State(), StateAwaitingWork)

	if _, err := NewLoop(Config{}, nil, &stubProcessor{}, nil); !appErr.Is(err, appErr.InvalidConfig) {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
	if _, err := NewLoop(Config{}, &scriptedCoordinator{}, nil, nil); !appErr.Is(err, appErr.InvalidConfig) {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	testutil.AssertEqual(t, StateAwaitingWork.String(), "awaiting_work")
	testutil.AssertEqual(t, StateProcessing.String(), "processing")
	testutil.AssertEqual(t, StateStopped.String(), "stopped")
}
