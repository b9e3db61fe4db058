// Package concurrent implements the concurrency fabric: a bounded
// worker-pool fan-out over per-series-id shards and a cooperative
// deadline. Generalizes a channel-consumer worker loop
// from SQL-batch workers to generic shard closures.
package concurrent

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool bounds the number of concurrently running shard closures to
// min(GOMAXPROCS, maxWorkers). Unlike a persistent worker pool fed by
// task channels, Pool uses errgroup.SetLimit so callers get result
// propagation and first-error cancellation for free — evaluator fan-out
// needs both, since results must merge in stable series-id order only
// once every shard has finished without error.
type Pool struct {
	maxWorkers int
}

// New returns a Pool capped at min(runtime.GOMAXPROCS(0), maxWorkers)
// (0 or negative means runtime.GOMAXPROCS(0)).
func New(maxWorkers int) *Pool {
	if maxWorkers <= 0 || maxWorkers > runtime.GOMAXPROCS(0) {
		maxWorkers = runtime.GOMAXPROCS(0)
	}
	return &Pool{maxWorkers: maxWorkers}
}

// Workers reports the pool's configured concurrency cap.
func (p *Pool) Workers() int { return p.maxWorkers }

// ForEachShard splits n items into roughly p.Workers() contiguous shards
// and runs fn(start, end) for each shard concurrently, processing shards
// independently. It returns the first error from any shard, after every
// shard has either completed or the context was canceled.
func (p *Pool) ForEachShard(ctx context.Context, n int, fn func(ctx context.Context, start, end int) error) error {
	if n == 0 {
		return nil
	}
	shards := p.maxWorkers
	if shards > n {
		shards = n
	}
	shardSize := (n + shards - 1) / shards

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for start := 0; start < n; start += shardSize {
		start := start
		end := start + shardSize
		if end > n {
			end = n
		}
		g.Go(func() error {
			return fn(gctx, start, end)
		})
	}
	return g.Wait()
}

// ForEach runs fn(i) for every i in [0,n), bounded by the pool's worker
// cap, returning the first error encountered.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return fn(gctx, i)
		})
	}
	return g.Wait()
}
