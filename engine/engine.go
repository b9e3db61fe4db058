package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/flashts/flashts/chunk"
	"github.com/flashts/flashts/concurrent"
	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/metricsql"
)

func chunkSample(ts int64, v float64) chunk.Sample {
	return chunk.Sample{TS: ts, V: v}
}

// DefaultLookbehind is the instant-query lookbehind window used when a
// request doesn't override it
const DefaultLookbehind = 5 * time.Minute

// DefaultTimeout bounds an evaluation when the caller supplies none.
const DefaultTimeout = 30 * time.Second

// Options configures an Engine.
type Options struct {
	MaxWorkers     int
	QueryCacheSize int // parsed-AST cache entries, 0 or negative means 256
	DefaultTimeout time.Duration
}

// Engine evaluates parsed metricsql expressions against a SeriesSource and
// its backing index
//
// Modeled on Prometheus's promql.Engine: a step-iteration loop with a
// per-query timeout, and a dispatch table of function pointers keyed by
// operator enum rather than inheritance.
type Engine struct {
	store SeriesSource
	idx   *index.Index
	pool  *concurrent.Pool

	queryCacheMu sync.Mutex
	queryCache   *simplelru.LRU // string -> metricsql.Expr

	sf singleflight.Group

	defaultTimeout time.Duration
}

// New constructs an Engine over store (a metricsdb.Database) and idx (its
// label index), taking both dependencies by reference rather than owning
// them.
func New(store SeriesSource, idx *index.Index, opts Options) *Engine {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 0 // concurrent.New treats <=0 as GOMAXPROCS
	}
	cacheSize := opts.QueryCacheSize
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, _ := simplelru.NewLRU(cacheSize, nil)
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		store:          store,
		idx:            idx,
		pool:           concurrent.New(opts.MaxWorkers),
		queryCache:     cache,
		defaultTimeout: timeout,
	}
}

// parse parses expr, consulting and populating the parsed-query cache.
func (e *Engine) parse(expr string) (metricsql.Expr, error) {
	e.queryCacheMu.Lock()
	if v, ok := e.queryCache.Get(expr); ok {
		e.queryCacheMu.Unlock()
		return v.(metricsql.Expr), nil
	}
	e.queryCacheMu.Unlock()

	parsed, err := metricsql.Parse(expr)
	if err != nil {
		return nil, err
	}

	e.queryCacheMu.Lock()
	e.queryCache.Add(expr, parsed)
	e.queryCacheMu.Unlock()
	return parsed, nil
}

// ErrTimeout is returned when an evaluation exceeds its deadline, mapped
// by the command adapter to QUERY_TIMEOUT
var ErrTimeout = fmt.Errorf("engine: query timeout")

// InstantQuery evaluates expr at time t (ms epoch) as an instant query.
// Concurrent identical instant queries collapse via singleflight to avoid
// duplicate work.
func (e *Engine) InstantQuery(ctx context.Context, expr string, t int64, timeout time.Duration) (Vector, error) {
	key := fmt.Sprintf("instant:%s@%d", expr, t)
	v, err, _ := e.sf.Do(key, func() (interface{}, error) {
		return e.instantQueryUncached(ctx, expr, t, timeout)
	})
	if err != nil {
		return nil, err
	}
	return v.(Vector), nil
}

func (e *Engine) instantQueryUncached(ctx context.Context, expr string, t int64, timeout time.Duration) (Vector, error) {
	ast, err := e.parse(expr)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	dl := concurrent.NewDeadline(timeout)
	defer dl.Stop()

	evalCtx := &evalContext{
		engine:     e,
		at:         t,
		lookbehind: DefaultLookbehind.Milliseconds(),
		deadline:   dl,
	}

	val, err := evalCtx.eval(ast)
	if err != nil {
		return nil, err
	}
	if dl.Expired() {
		return nil, ErrTimeout
	}

	vec, ok := val.(vectorValue)
	if !ok {
		return nil, fmt.Errorf("engine: top-level expression must evaluate to an instant vector")
	}
	out := Vector(vec)
	// topk/bottomk already return their samples in value order.
	if agg, ok := ast.(*metricsql.AggregateExpr); !ok || (agg.Op != metricsql.AggTopK && agg.Op != metricsql.AggBottomK) {
		out.SortByFingerprint()
	}
	return out, nil
}

// RangeQuery evaluates expr at every timestamp start, start+step, ...,
// <=end. Per-series lookbehind uses the
// median of each series' first 20 sample intervals (falling back to step
// under 20 samples).
func (e *Engine) RangeQuery(ctx context.Context, expr string, start, end, step int64, timeout time.Duration) (Matrix, error) {
	if step <= 0 {
		return nil, fmt.Errorf("engine: step must be positive")
	}
	if end < start {
		return nil, fmt.Errorf("engine: end must be >= start")
	}

	ast, err := e.parse(expr)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	dl := concurrent.NewDeadline(timeout)
	defer dl.Stop()

	bySeries := make(map[uint64]*SeriesResult)
	var order []uint64

	for ts := start; ts <= end; ts += step {
		if dl.Expired() {
			log.Warn("query_range exceeded deadline", zap.String("expr", expr), zap.Int64("ts", ts))
			return nil, ErrTimeout
		}
		evalCtx := &evalContext{
			engine:             e,
			at:                 ts,
			lookbehind:         step,
			useMedianLookbehind: true,
			deadline:           dl,
		}
		val, err := evalCtx.eval(ast)
		if err != nil {
			return nil, err
		}
		vec, ok := val.(vectorValue)
		if !ok {
			return nil, fmt.Errorf("engine: top-level expression must evaluate to an instant vector")
		}
		for _, smp := range vec {
			fp := smp.Labels.Fingerprint()
			sr, ok := bySeries[fp]
			if !ok {
				sr = &SeriesResult{Labels: smp.Labels}
				bySeries[fp] = sr
				order = append(order, fp)
			}
			sr.Points = append(sr.Points, chunkSample(smp.TS, smp.V))
		}
	}

	out := make(Matrix, 0, len(order))
	for _, fp := range order {
		out = append(out, *bySeries[fp])
	}
	out.SortByFingerprint()
	return out, nil
}
