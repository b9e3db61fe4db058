package index_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/labelset"
)

func mustLabels(t *testing.T, pairs ...string) labelset.LabelSet {
	t.Helper()
	ls, err := labelset.FromPairs(pairs...)
	require.NoError(t, err)
	return ls
}

// TestSelectRegexAndNegation covers label-predicate selection via
// equality, regex, and negation matchers.
func TestSelectRegexAndNegation(t *testing.T) {
	ix := index.New()
	ix.Insert(1, mustLabels(t, "__name__", "temperature", "city", "NYC"))
	ix.Insert(2, mustLabels(t, "__name__", "temperature", "city", "NYA"))
	ix.Insert(3, mustLabels(t, "__name__", "humidity", "city", "NYC"))

	name, err := index.NewMatcher(index.MatchEqual, "__name__", "temperature")
	require.NoError(t, err)
	cityRE, err := index.NewMatcher(index.MatchRegexp, "city", "NY.*")
	require.NoError(t, err)
	ids := index.ExpandIDs(ix.Select([][]*index.Matcher{{name, cityRE}}))
	require.ElementsMatch(t, []uint64{1, 2}, ids)

	cityEq, err := index.NewMatcher(index.MatchEqual, "city", "NYC")
	require.NoError(t, err)
	ids = index.ExpandIDs(ix.Select([][]*index.Matcher{{cityEq}}))
	require.ElementsMatch(t, []uint64{1, 3}, ids)

	nameTemp, err := index.NewMatcher(index.MatchEqual, "__name__", "temperature")
	require.NoError(t, err)
	cityNe, err := index.NewMatcher(index.MatchNotEqual, "city", "NYC")
	require.NoError(t, err)
	ids = index.ExpandIDs(ix.Select([][]*index.Matcher{{nameTemp, cityNe}}))
	require.ElementsMatch(t, []uint64{2}, ids)
}

func TestInsertInvariantRoundTrip(t *testing.T) {
	ix := index.New()
	labels := mustLabels(t, "__name__", "cpu", "host", "a")
	ix.Insert(7, labels)

	m, err := index.NewMatcher(index.MatchEqual, "host", "a")
	require.NoError(t, err)
	ids := index.ExpandIDs(ix.Select([][]*index.Matcher{{m}}))
	require.Equal(t, []uint64{7}, ids)

	got, ok := ix.Labels(7)
	require.True(t, ok)
	require.Equal(t, labels, got)

	ix.Remove(7)
	ids = index.ExpandIDs(ix.Select([][]*index.Matcher{{m}}))
	require.Empty(t, ids)
	_, ok = ix.Labels(7)
	require.False(t, ok)
}

func TestAbsentLabelSemantics(t *testing.T) {
	ix := index.New()
	ix.Insert(1, mustLabels(t, "__name__", "up", "job", "a"))
	ix.Insert(2, mustLabels(t, "__name__", "up"))

	hasJob, err := index.NewMatcher(index.MatchNotEqual, "job", "")
	require.NoError(t, err)
	ids := index.ExpandIDs(ix.Select([][]*index.Matcher{{hasJob}}))
	require.Equal(t, []uint64{1}, ids)

	lacksJob, err := index.NewMatcher(index.MatchEqual, "job", "")
	require.NoError(t, err)
	ids = index.ExpandIDs(ix.Select([][]*index.Matcher{{lacksJob}}))
	require.Equal(t, []uint64{2}, ids)
}

// TestNotEqualExcludesSeriesLackingTheLabel covers the Prometheus
// absent-label gotcha for a non-empty-value `!=`/`!~`: a series that never
// carries the label at all must not match, only series that carry it with
// some other value.
func TestNotEqualExcludesSeriesLackingTheLabel(t *testing.T) {
	ix := index.New()
	ix.Insert(1, mustLabels(t, "__name__", "temperature", "city", "NYC"))
	ix.Insert(2, mustLabels(t, "__name__", "temperature", "city", "NYA"))
	ix.Insert(3, mustLabels(t, "__name__", "humidity")) // no city label at all

	notEqual, err := index.NewMatcher(index.MatchNotEqual, "city", "NYC")
	require.NoError(t, err)
	ids := index.ExpandIDs(ix.Select([][]*index.Matcher{{notEqual}}))
	require.Equal(t, []uint64{2}, ids)

	notRegexp, err := index.NewMatcher(index.MatchNotRegexp, "city", "NY.*")
	require.NoError(t, err)
	ids = index.ExpandIDs(ix.Select([][]*index.Matcher{{notRegexp}}))
	require.Empty(t, ids)
}

func TestCardinalityMatchesSelectLength(t *testing.T) {
	ix := index.New()
	ix.Insert(1, mustLabels(t, "__name__", "cpu"))
	ix.Insert(2, mustLabels(t, "__name__", "cpu"))
	ix.Insert(3, mustLabels(t, "__name__", "mem"))

	m, err := index.NewMatcher(index.MatchEqual, "__name__", "cpu")
	require.NoError(t, err)
	require.EqualValues(t, 2, ix.Cardinality([][]*index.Matcher{{m}}))
}
