package filter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashts/flashts/filter"
	"github.com/flashts/flashts/index"
)

func TestParseBasicEquality(t *testing.T) {
	m, err := filter.ParseBasic("city=NYC")
	require.NoError(t, err)
	require.Equal(t, index.MatchEqual, m.Type)
	require.Equal(t, "city", m.Name)
	require.True(t, m.Matches("NYC"))
	require.False(t, m.Matches("NYA"))
}

func TestParseBasicNegationAndList(t *testing.T) {
	m, err := filter.ParseBasic("city!=(NYC,NYA)")
	require.NoError(t, err)
	require.Equal(t, index.MatchNotRegexp, m.Type)
	require.False(t, m.Matches("NYC"))
	require.True(t, m.Matches("SF"))
}

func TestParsePromSelectorBareMetric(t *testing.T) {
	groups, err := filter.ParsePromSelector("temperature")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 1)
	require.Equal(t, "__name__", groups[0][0].Name)
	require.True(t, groups[0][0].Matches("temperature"))
}

func TestParsePromSelectorBracesAndRegex(t *testing.T) {
	groups, err := filter.ParsePromSelector(`temperature{city=~"NY.*"}`)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 2)
}

func TestParsePromSelectorOrSplitsGroups(t *testing.T) {
	groups, err := filter.ParsePromSelector(`{city="NYC" or city="NYA"}`)
	require.NoError(t, err)
	require.Len(t, groups, 2)
}

func TestParseAutodetect(t *testing.T) {
	g1, err := filter.Parse("temperature{city=\"NYC\"}")
	require.NoError(t, err)
	require.Len(t, g1, 1)

	g2, err := filter.Parse("city!=NYC")
	require.NoError(t, err)
	require.Len(t, g2, 1)
	require.Equal(t, index.MatchNotEqual, g2[0][0].Type)
}
