package series_test

import (
	"testing"

	"github.com/flashts/flashts/chunk"
	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/series"
	"github.com/stretchr/testify/require"
)

func mustLabels(t *testing.T, pairs ...string) labelset.LabelSet {
	t.Helper()
	ls, err := labelset.FromPairs(pairs...)
	require.NoError(t, err)
	return ls
}

func TestSeriesAddAppendsAcrossChunks(t *testing.T) {
	cfg := series.DefaultConfig()
	cfg.ChunkSize = 24 // force an early Split
	s := series.New(1, mustLabels(t, "__name__", "cpu"), cfg)

	for i := int64(0); i < 20; i++ {
		outcome, err := s.Add(i*1000, float64(i), 1_000_000)
		require.NoError(t, err)
		require.Equal(t, series.AddAccepted, outcome)
	}
	require.Equal(t, 20, s.Len())

	first, last, ok := s.FirstLast()
	require.True(t, ok)
	require.Equal(t, int64(0), first)
	require.Equal(t, int64(19000), last)
}

func TestSeriesAddBlockPolicyRejectsDuplicate(t *testing.T) {
	cfg := series.DefaultConfig()
	cfg.DuplicatePolicy = chunk.PolicyBlock
	s := series.New(1, mustLabels(t, "__name__", "cpu"), cfg)

	outcome, err := s.Add(10, 1, 1000)
	require.NoError(t, err)
	require.Equal(t, series.AddAccepted, outcome)

	outcome, err = s.Add(10, 2, 1000)
	require.Error(t, err)
	require.Equal(t, series.AddBlocked, outcome)

	samples := s.Range(0, 100)
	require.Equal(t, []series.Sample{{TS: 10, V: 1}}, samples)
}

func TestSeriesAddLastPolicyOverwrites(t *testing.T) {
	cfg := series.DefaultConfig()
	cfg.DuplicatePolicy = chunk.PolicyLast
	s := series.New(1, mustLabels(t, "__name__", "cpu"), cfg)

	_, err := s.Add(10, 1, 1000)
	require.NoError(t, err)
	_, err = s.Add(10, 2, 1000)
	require.NoError(t, err)

	samples := s.Range(0, 100)
	require.Equal(t, []series.Sample{{TS: 10, V: 2}}, samples)
}

func TestSeriesIgnoreFilterDropsNearDuplicate(t *testing.T) {
	cfg := series.DefaultConfig()
	cfg.IgnoreMaxTimeDiff = 5
	cfg.IgnoreMaxValDiff = 0.5
	s := series.New(1, mustLabels(t, "__name__", "cpu"), cfg)

	outcome, err := s.Add(1000, 10, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, series.AddAccepted, outcome)

	outcome, err = s.Add(1003, 10.1, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, series.AddIgnored, outcome)

	outcome, err = s.Add(1003, 20, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, series.AddAccepted, outcome)
}

func TestSeriesRetentionTrim(t *testing.T) {
	cfg := series.DefaultConfig()
	cfg.RetentionMs = 10_000
	s := series.New(1, mustLabels(t, "__name__", "cpu"), cfg)

	for _, ts := range []int64{0, 5000, 20000, 25000} {
		_, err := s.Add(ts, float64(ts), ts)
		require.NoError(t, err)
	}

	removed := s.TrimRetention(25000)
	samples := s.Range(0, 100000)
	require.Equal(t, []series.Sample{{TS: 20000, V: 20000}, {TS: 25000, V: 25000}}, samples)
	require.GreaterOrEqual(t, removed, 0)
}

func TestSeriesIngestFoldsIntraBatchDuplicates(t *testing.T) {
	cfg := series.DefaultConfig()
	cfg.DuplicatePolicy = chunk.PolicySum
	s := series.New(1, mustLabels(t, "__name__", "cpu"), cfg)

	result := s.Ingest([]series.Sample{
		{TS: 30, V: 1},
		{TS: 10, V: 2},
		{TS: 10, V: 3},
		{TS: 20, V: 4},
	}, 1_000_000)

	require.Equal(t, 4, result.Total)
	require.Equal(t, 3, result.Accepted)

	samples := s.Range(0, 100)
	require.Equal(t, []series.Sample{{TS: 10, V: 5}, {TS: 20, V: 4}, {TS: 30, V: 1}}, samples)
}

func TestSeriesDeletePartialChunk(t *testing.T) {
	s := series.New(1, mustLabels(t, "__name__", "cpu"), series.DefaultConfig())
	for _, ts := range []int64{10, 20, 30, 40} {
		_, err := s.Add(ts, float64(ts), ts)
		require.NoError(t, err)
	}

	removed := s.Delete(15, 35)
	require.Equal(t, 2, removed)
	require.Equal(t, []series.Sample{{TS: 10, V: 10}, {TS: 40, V: 40}}, s.Range(0, 100))
}

func TestSeriesAlterMutatesConfig(t *testing.T) {
	s := series.New(1, mustLabels(t, "__name__", "cpu"), series.DefaultConfig())
	newRetention := int64(5000)
	newPolicy := chunk.PolicyMax
	err := s.Alter(series.ConfigDelta{RetentionMs: &newRetention, DuplicatePolicy: &newPolicy})
	require.NoError(t, err)
	require.Equal(t, int64(5000), s.Config.RetentionMs)
	require.Equal(t, chunk.PolicyMax, s.Config.DuplicatePolicy)
}

func TestSeriesAddRejectsNegativeTimestamp(t *testing.T) {
	s := series.New(1, mustLabels(t, "__name__", "cpu"), series.DefaultConfig())
	outcome, err := s.Add(-1, 0, 0)
	require.Error(t, err)
	require.Equal(t, series.AddBlocked, outcome)
}
