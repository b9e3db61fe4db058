package labelset_test

import (
	"testing"

	"github.com/flashts/flashts/labelset"
	"github.com/stretchr/testify/require"
)

func TestBuilderSortsAndValidates(t *testing.T) {
	ls, err := labelset.NewBuilder().
		AddMetricName("temperature").
		Add("city", "NYC").
		Add("unit", "C").
		Build()
	require.NoError(t, err)
	require.Equal(t, 3, ls.Len())

	all := ls.All()
	require.Equal(t, "__name__", all[0].Name)
	require.Equal(t, "city", all[1].Name)
	require.Equal(t, "unit", all[2].Name)

	v, ok := ls.Get("city")
	require.True(t, ok)
	require.Equal(t, "NYC", v)
	require.Equal(t, "temperature", ls.MetricName())
}

func TestBuilderRejectsDuplicateName(t *testing.T) {
	_, err := labelset.NewBuilder().Add("city", "NYC").Add("city", "NYA").Build()
	require.Error(t, err)
}

func TestBuilderRejectsInvalidName(t *testing.T) {
	_, err := labelset.NewBuilder().Add("1bad", "x").Build()
	require.Error(t, err)
}

func TestFingerprintStableAndDistinguishing(t *testing.T) {
	a, err := labelset.FromPairs("__name__", "up", "job", "a")
	require.NoError(t, err)
	b, err := labelset.FromPairs("job", "a", "__name__", "up")
	require.NoError(t, err)
	require.Equal(t, a.Fingerprint(), b.Fingerprint())

	c, err := labelset.FromPairs("__name__", "up", "job", "b")
	require.NoError(t, err)
	require.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestInternerRefcounting(t *testing.T) {
	in := labelset.NewInterner()
	h1 := in.Intern("city")
	h2 := in.Intern("city")
	require.Equal(t, h1, h2)
	require.Equal(t, "city", in.Resolve(h1))

	in.Release(h1)
	// still referenced once more
	require.Equal(t, "city", in.Resolve(h2))
	in.Release(h2)

	require.Panics(t, func() { in.Resolve(h1) })
}
