package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashts/flashts/engine"
	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/series"
)

// fakeStore is a minimal engine.SeriesSource backed by plain maps, so
// engine tests don't need the full metricsdb facade.
type fakeStore struct {
	idx *index.Index
	ser map[uint64]*series.Series
}

func newFakeStore() *fakeStore {
	return &fakeStore{idx: index.New(), ser: make(map[uint64]*series.Series)}
}

func (f *fakeStore) SeriesByID(id uint64) (*series.Series, bool) {
	s, ok := f.ser[id]
	return s, ok
}

func (f *fakeStore) SelectIDs(groups [][]*index.Matcher) []uint64 {
	return index.ExpandIDs(f.idx.Select(groups))
}

func (f *fakeStore) addSeries(t *testing.T, id uint64, pairs []string, samples [][2]float64) *series.Series {
	t.Helper()
	ls, err := labelset.FromPairs(pairs...)
	require.NoError(t, err)
	s := series.New(id, ls, series.DefaultConfig())
	for _, smp := range samples {
		_, err := s.Add(int64(smp[0]), smp[1], int64(smp[0]))
		require.NoError(t, err)
	}
	f.ser[id] = s
	f.idx.Insert(id, ls)
	return s
}

func newTestEngine(store *fakeStore) *engine.Engine {
	return engine.New(store, store.idx, engine.Options{})
}

// TestCounterRateWithReset checks that rate(s[45s]) at t=45 with a
// counter reset between ts=15 and ts=30 equals (10+15)/45.
func TestCounterRateWithReset(t *testing.T) {
	store := newFakeStore()
	store.addSeries(t, 1, []string{"__name__", "s"}, [][2]float64{
		{0, 0}, {15, 10}, {30, 5}, {45, 15},
	})
	eng := newTestEngine(store)

	v, err := eng.InstantQuery(context.Background(), `rate(s[45s])`, 45000, time.Second)
	require.NoError(t, err)
	require.Len(t, v, 1)
	require.InDelta(t, 25.0/45.0, v[0].V, 1e-9)
}

// TestIncreaseWithReset checks increase()'s absolute form of the same
// counter-reset accounting rate() divides by window_seconds.
func TestIncreaseWithReset(t *testing.T) {
	store := newFakeStore()
	store.addSeries(t, 1, []string{"__name__", "s"}, [][2]float64{
		{0, 0}, {15, 10}, {30, 5}, {45, 15},
	})
	eng := newTestEngine(store)

	v, err := eng.InstantQuery(context.Background(), `increase(s[45s])`, 45000, time.Second)
	require.NoError(t, err)
	require.Len(t, v, 1)
	require.InDelta(t, 25.0, v[0].V, 1e-9)
}

// TestRangeQueryFirstSampleMatchesInstant is law
// "QUERY_RANGE(expr, t, t, step=any) has first sample equal to
// QUERY(expr, t)".
func TestRangeQueryFirstSampleMatchesInstant(t *testing.T) {
	store := newFakeStore()
	store.addSeries(t, 1, []string{"__name__", "s"}, [][2]float64{
		{1000, 1}, {2000, 2}, {3000, 3},
	})
	eng := newTestEngine(store)

	instant, err := eng.InstantQuery(context.Background(), `s`, 3000, time.Second)
	require.NoError(t, err)
	require.Len(t, instant, 1)

	m, err := eng.RangeQuery(context.Background(), `s`, 3000, 3000, 1000, time.Second)
	require.NoError(t, err)
	require.Len(t, m, 1)
	require.Len(t, m[0].Points, 1)
	require.Equal(t, instant[0].V, m[0].Points[0].V)
}

// TestAggregationSumByLabel exercises sum(...) by (label) grouping.
func TestAggregationSumByLabel(t *testing.T) {
	store := newFakeStore()
	store.addSeries(t, 1, []string{"__name__", "cpu_seconds", "host", "a", "core", "0"}, [][2]float64{{0, 1}})
	store.addSeries(t, 2, []string{"__name__", "cpu_seconds", "host", "a", "core", "1"}, [][2]float64{{0, 2}})
	store.addSeries(t, 3, []string{"__name__", "cpu_seconds", "host", "b", "core", "0"}, [][2]float64{{0, 5}})
	eng := newTestEngine(store)

	v, err := eng.InstantQuery(context.Background(), `sum(cpu_seconds) by (host)`, 0, time.Second)
	require.NoError(t, err)
	require.Len(t, v, 2)

	totals := map[string]float64{}
	for _, s := range v {
		host, _ := s.Labels.Get("host")
		totals[host] = s.V
	}
	require.Equal(t, 3.0, totals["a"])
	require.Equal(t, 5.0, totals["b"])
}

// TestBinaryVectorMatchingOnMatchingLabels exercises vector-vector
// arithmetic with on() matching.
func TestBinaryVectorMatchingOnMatchingLabels(t *testing.T) {
	store := newFakeStore()
	store.addSeries(t, 1, []string{"__name__", "requests", "host", "a"}, [][2]float64{{0, 10}})
	store.addSeries(t, 2, []string{"__name__", "errors", "host", "a"}, [][2]float64{{0, 2}})
	eng := newTestEngine(store)

	v, err := eng.InstantQuery(context.Background(), `errors / on(host) requests`, 0, time.Second)
	require.NoError(t, err)
	require.Len(t, v, 1)
	require.InDelta(t, 0.2, v[0].V, 1e-9)
}

// TestTopK exercises topk(k, vector) ordering and truncation.
func TestTopK(t *testing.T) {
	store := newFakeStore()
	store.addSeries(t, 1, []string{"__name__", "m", "i", "1"}, [][2]float64{{0, 1}})
	store.addSeries(t, 2, []string{"__name__", "m", "i", "2"}, [][2]float64{{0, 5}})
	store.addSeries(t, 3, []string{"__name__", "m", "i", "3"}, [][2]float64{{0, 3}})
	eng := newTestEngine(store)

	v, err := eng.InstantQuery(context.Background(), `topk(2, m)`, 0, time.Second)
	require.NoError(t, err)
	require.Len(t, v, 2)
	require.Equal(t, 5.0, v[0].V)
}

// TestAbsentFunction checks absent() reports presence/absence correctly.
func TestAbsentFunction(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(store)

	v, err := eng.InstantQuery(context.Background(), `absent(nonexistent_metric)`, 0, time.Second)
	require.NoError(t, err)
	require.Len(t, v, 1)
	require.Equal(t, 1.0, v[0].V)
}
