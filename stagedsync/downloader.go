package stagedsync

import (
	"context"
	"fmt"
	"time"

	"github.com/aviral10x/reth/core"
	"github.com/aviral10x/reth/core/types"
)

// DownloadConfig tunes the downloader-facing stages: batch sizing, the
// bounded queue between the fetcher and the stage, and the retry policy
// for stalled streams.
type DownloadConfig struct {
	BatchSize      int           // blocks per request
	QueueSize      int           // batches buffered between fetcher and stage
	RequestTimeout time.Duration // per-request deadline
	RetryBudget    int           // attempts before the stall becomes fatal
	RetryBackoff   time.Duration // base backoff, doubled per attempt
}

// DefaultDownloadConfig returns sensible defaults.
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		BatchSize:      192,
		QueueSize:      4,
		RequestTimeout: 10 * time.Second,
		RetryBudget:    3,
		RetryBackoff:   200 * time.Millisecond,
	}
}

func (c DownloadConfig) withDefaults() DownloadConfig {
	d := DefaultDownloadConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = d.RetryBudget
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// headerFeed streams header batches from a HeaderClient into a bounded
// channel. The channel bound provides backpressure in both directions: the
// consuming stage blocks when the feed is empty and the fetcher blocks
// when the stage falls behind, so memory stays bounded during bulk sync.
type headerFeed struct {
	client core.HeaderClient
	config DownloadConfig

	out    chan []*types.Header
	errc   chan error
	cancel context.CancelFunc
}

// newHeaderFeed starts fetching headers [from, target] in the background.
func newHeaderFeed(ctx context.Context, client core.HeaderClient, config DownloadConfig, from, target uint64) *headerFeed {
	ctx, cancel := context.WithCancel(ctx)
	f := &headerFeed{
		client: client,
		config: config,
		out:    make(chan []*types.Header, config.QueueSize),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go f.run(ctx, from, target)
	return f
}

func (f *headerFeed) run(ctx context.Context, from, target uint64) {
	defer close(f.out)
	for next := from; next <= target; {
		count := f.config.BatchSize
		if remaining := target - next + 1; remaining < uint64(count) {
			count = int(remaining)
		}
		headers, err := fetchWithRetry(ctx, f.config, func(reqCtx context.Context) ([]*types.Header, error) {
			return f.client.RequestHeaders(reqCtx, next, count)
		})
		if err != nil {
			select {
			case f.errc <- err:
			case <-ctx.Done():
			}
			return
		}
		select {
		case f.out <- headers:
		case <-ctx.Done():
			return
		}
		next += uint64(len(headers))
	}
}

// next returns the next batch, a stream error, or ctx cancellation. A nil
// batch with nil error means the feed has delivered everything.
func (f *headerFeed) next(ctx context.Context) ([]*types.Header, error) {
	select {
	case batch, ok := <-f.out:
		if !ok {
			// Drain a pending error raced with channel close.
			select {
			case err := <-f.errc:
				return nil, err
			default:
				return nil, nil
			}
		}
		return batch, nil
	case err := <-f.errc:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stop cancels the background fetcher.
func (f *headerFeed) stop() {
	f.cancel()
}

// fetchWithRetry runs fetch under the per-request timeout, retrying with
// doubling backoff on errors and empty responses. Exhausting the budget
// surfaces ErrRetryBudget, which is fatal to the pipeline run.
func fetchWithRetry[T any](ctx context.Context, config DownloadConfig, fetch func(context.Context) ([]T, error)) ([]T, error) {
	backoff := config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < config.RetryBudget; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		reqCtx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
		result, err := fetch(reqCtx)
		cancel()
		switch {
		case err == nil && len(result) > 0:
			return result, nil
		case err == nil:
			lastErr = fmt.Errorf("empty response")
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			lastErr = err
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrRetryBudget, lastErr)
}
