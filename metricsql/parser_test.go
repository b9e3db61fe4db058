package metricsql_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashts/flashts/metricsql"
)

func TestParseBareSelector(t *testing.T) {
	expr, err := metricsql.Parse(`temperature{city="NYC"}`)
	require.NoError(t, err)
	sel, ok := expr.(*metricsql.Selector)
	require.True(t, ok)
	require.Equal(t, metricsql.ValueVector, sel.Type())
	require.Len(t, sel.Matchers, 2)
}

func TestParseRangeVectorRequiredForRollup(t *testing.T) {
	_, err := metricsql.Parse(`rate(temperature{city="NYC"})`)
	require.Error(t, err)

	expr, err := metricsql.Parse(`rate(temperature{city="NYC"}[45s])`)
	require.NoError(t, err)
	call, ok := expr.(*metricsql.Call)
	require.True(t, ok)
	require.Equal(t, "rate", call.Name)
	require.Equal(t, metricsql.ValueRangeVector, call.Args[0].Type())
}

func TestParseBinaryPrecedence(t *testing.T) {
	expr, err := metricsql.Parse(`1 + 2 * 3`)
	require.NoError(t, err)
	bin, ok := expr.(*metricsql.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, metricsql.OpAdd, bin.Op)
	rhs, ok := bin.RHS.(*metricsql.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, metricsql.OpMul, rhs.Op)
}

func TestParseAggregationByLabels(t *testing.T) {
	expr, err := metricsql.Parse(`sum by (city) (temperature)`)
	require.NoError(t, err)
	agg, ok := expr.(*metricsql.AggregateExpr)
	require.True(t, ok)
	require.Equal(t, metricsql.AggSum, agg.Op)
	require.Equal(t, []string{"city"}, agg.Grouping)
	require.False(t, agg.Without)
}

func TestParseVectorMatchingModifiers(t *testing.T) {
	expr, err := metricsql.Parse(`a{x="1"} / ignoring(y) group_left b{x="1"}`)
	require.NoError(t, err)
	bin, ok := expr.(*metricsql.BinaryExpr)
	require.True(t, ok)
	require.NotNil(t, bin.Matching)
	require.False(t, bin.Matching.On)
	require.True(t, bin.Matching.GroupLeft)
}

func TestParseOffsetAndDuration(t *testing.T) {
	expr, err := metricsql.Parse(`temperature[5m] offset 1h30m`)
	require.NoError(t, err)
	sel, ok := expr.(*metricsql.Selector)
	require.True(t, ok)
	require.NotNil(t, sel.Window)
	require.Equal(t, metricsql.Duration(5*60*1000), *sel.Window)
	require.NotNil(t, sel.Offset)
	require.Equal(t, metricsql.Duration((60+30)*60*1000), *sel.Offset)
}

func TestParseDurationSuffixes(t *testing.T) {
	for in, want := range map[string]metricsql.Duration{
		"500ms": 500,
		"10s":   10000,
		"2m":    120000,
		"1h":    3600000,
		"1d":    86400000,
		"1w":    7 * 86400000,
	} {
		got, err := metricsql.ParseDuration(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
}
