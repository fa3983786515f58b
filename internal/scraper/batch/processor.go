package batch

import (
	"context"
	"fmt"

	"ojscraper/internal/scraper/model"
	appErr "ojscraper/pkg/errors"
	"ojscraper/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPoolSize bounds concurrent item fetches when no size is configured.
const DefaultPoolSize = 32

// ItemFetcher resolves one identifier to an outcome.
type ItemFetcher interface {
	Fetch(ctx context.Context, id int64) model.Outcome
}

// Processor fans a batch out over a fixed number of concurrent fetches.
type Processor struct {
	fetcher  ItemFetcher
	poolSize int
}

func NewProcessor(fetcher ItemFetcher, poolSize int) (*Processor, error) {
	if fetcher == nil {
		return nil, appErr.New(appErr.InvalidConfig).WithMessage("item fetcher is required")
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &Processor{fetcher: fetcher, poolSize: poolSize}, nil
}

// PoolSize returns the concurrency cap.
func (p *Processor) PoolSize() int {
	return p.poolSize
}

// Process fetches every distinct id of batch and files each outcome into the
// report. One item's failure never affects the others.
func (p *Processor) Process(ctx context.Context, batch []int64) model.Report {
	report := model.NewReport()
	ids := distinct(batch)
	if len(ids) == 0 {
		return report
	}

	sink := make(chan model.Outcome, len(ids))
	var g errgroup.Group
	g.SetLimit(p.poolSize)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			sink <- p.fetchOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	close(sink)

	for out := range sink {
		report.Add(out)
	}
	return report
}

func (p *Processor) fetchOne(ctx context.Context, id int64) (out model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := appErr.New(appErr.ItemPanicked).WithMessage(fmt.Sprint(r))
			logger.Error(ctx, "item processing panicked", zap.Int64("id", id), zap.Error(err))
			out = model.Dropped(id)
		}
	}()
	out = p.fetcher.Fetch(ctx, id)
	out.ID = id
	if out.Status == model.StatusFound && out.Record == nil {
		out = model.Dropped(id)
	}
	return out
}

// distinct drops repeated ids, keeping first occurrences in order.
func distinct(batch []int64) []int64 {
	if len(batch) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(batch))
	out := make([]int64, 0, len(batch))
	for _, id := range batch {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
