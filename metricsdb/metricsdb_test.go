package metricsdb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/metricsdb"
	"github.com/flashts/flashts/series"
)

func mustLabels(t *testing.T, pairs ...string) labelset.LabelSet {
	t.Helper()
	ls, err := labelset.FromPairs(pairs...)
	require.NoError(t, err)
	return ls
}

func matcher(t *testing.T, mt index.MatchType, name, value string) *index.Matcher {
	t.Helper()
	m, err := index.NewMatcher(mt, name, value)
	require.NoError(t, err)
	return m
}

// TestCreateRegistersPostings checks a created series is immediately
// resolvable both by key and through the label index.
func TestCreateRegistersPostings(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	labels := mustLabels(t, "__name__", "temperature", "city", "NYC")

	s, err := db.Create("temp:nyc", labels, series.DefaultConfig())
	require.NoError(t, err)

	byKey, ok := db.Lookup("temp:nyc")
	require.True(t, ok)
	require.Equal(t, s.ID, byKey.ID)

	ids := db.SelectIDs([][]*index.Matcher{{matcher(t, index.MatchEqual, "__name__", "temperature")}})
	require.Contains(t, ids, s.ID)
}

// TestCreateFailsOnDuplicateKey checks a second Create for the same key
// is rejected and the original series is untouched.
func TestCreateFailsOnDuplicateKey(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	labels := mustLabels(t, "__name__", "s")
	_, err := db.Create("s", labels, series.DefaultConfig())
	require.NoError(t, err)

	_, err = db.Create("s", labels, series.DefaultConfig())
	require.Error(t, err)
}

// TestGetOrCreateIsIdempotent checks repeated GetOrCreate calls for the
// same key return the same series without re-creating it.
func TestGetOrCreateIsIdempotent(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	labels := mustLabels(t, "__name__", "s")

	s1, created1, err := db.GetOrCreate("s", labels, series.DefaultConfig())
	require.NoError(t, err)
	require.True(t, created1)

	s2, created2, err := db.GetOrCreate("s", labels, series.DefaultConfig())
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, s1.ID, s2.ID)
}

// TestSetLabelsReregistersPostings checks that changing a series' labels
// makes it findable under its new labels and not its old ones.
func TestSetLabelsReregistersPostings(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	_, err := db.Create("s", mustLabels(t, "__name__", "s", "city", "NYC"), series.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, db.SetLabels("s", mustLabels(t, "__name__", "s", "city", "LA")))

	nycIDs := db.SelectIDs([][]*index.Matcher{{matcher(t, index.MatchEqual, "city", "NYC")}})
	require.Empty(t, nycIDs)

	laIDs := db.SelectIDs([][]*index.Matcher{{matcher(t, index.MatchEqual, "city", "LA")}})
	require.Len(t, laIDs, 1)
}

// TestDeleteUnregistersPostings checks a deleted series disappears from
// both the keyspace and the label index.
func TestDeleteUnregistersPostings(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	s, err := db.Create("s", mustLabels(t, "__name__", "s"), series.DefaultConfig())
	require.NoError(t, err)

	require.True(t, db.Delete("s"))

	_, ok := db.Lookup("s")
	require.False(t, ok)

	_, ok = db.SeriesByID(s.ID)
	require.False(t, ok)

	ids := db.SelectIDs([][]*index.Matcher{{matcher(t, index.MatchEqual, "__name__", "s")}})
	require.Empty(t, ids)
}

// TestDeleteOnMissingKeyReturnsFalse checks Delete is a no-op reporting
// false for a key that was never created.
func TestDeleteOnMissingKeyReturnsFalse(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	require.False(t, db.Delete("nope"))
}

// TestDeleteReleasesInternedLabelHandles checks Delete gives a deleted
// series' label handles back to labelset.DefaultInterner (the interner
// every production Builder canonicalizes through), not just drops the
// series from the keyspace and index.
func TestDeleteReleasesInternedLabelHandles(t *testing.T) {
	const value = "delete-release-test-value"
	ownH := labelset.DefaultInterner.Intern(value) // hold our own ref so the handle survives the series' release

	labels, err := labelset.NewBuilder().
		AddMetricName("s").
		Add("city", value).
		Build()
	require.NoError(t, err)

	db := metricsdb.New(metricsdb.Options{})
	_, err = db.Create("s", labels, series.DefaultConfig())
	require.NoError(t, err)

	require.True(t, db.Delete("s"))

	// our own ref is still live, so the handle must still resolve.
	require.Equal(t, value, labelset.DefaultInterner.Resolve(ownH))

	labelset.DefaultInterner.Release(ownH)
	require.Panics(t, func() { labelset.DefaultInterner.Resolve(ownH) })
}

// TestSeriesSourceConformance confirms *Database satisfies the interface
// the engine package depends on for query evaluation.
func TestSeriesSourceConformance(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	require.NotNil(t, db.Engine())
	require.NotNil(t, db.Index())
}

// TestDefaultSeriesConfigFallsBackToPackageDefault checks that an
// unconfigured Database's implicit-creation path still gets
// series.DefaultConfig()'s values, not a zero-valued Config.
func TestDefaultSeriesConfigFallsBackToPackageDefault(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	require.Equal(t, series.DefaultConfig(), db.DefaultSeriesConfig())
}

// TestDefaultSeriesConfigHonorsOptions checks that a caller-supplied
// DefaultSeriesConfig overrides the package default, the same wiring
// config.EngineConfig.SeriesDefaults() uses when feeding metricsdb.New.
func TestDefaultSeriesConfigHonorsOptions(t *testing.T) {
	custom := series.DefaultConfig()
	custom.RetentionMs = 60_000
	db := metricsdb.New(metricsdb.Options{DefaultSeriesConfig: custom})
	require.Equal(t, int64(60_000), db.DefaultSeriesConfig().RetentionMs)
}
