package chunk_test

import (
	"math/rand"
	"testing"

	"github.com/flashts/flashts/chunk"
	"github.com/stretchr/testify/require"
)

func TestXORChunkBasicPushAndRange(t *testing.T) {
	c := chunk.New(chunk.EncodingCompressed, chunk.DefaultMaxSize, nil)
	require.Equal(t, chunk.Added, c.Push(1000, 1))
	require.Equal(t, chunk.Added, c.Push(2000, 2))
	require.Equal(t, chunk.Added, c.Push(3000, 3))
	require.Equal(t, chunk.Duplicate, c.Push(3000, 99))
	require.Equal(t, chunk.OutOfOrder, c.Push(2500, 99))

	all := c.All()
	require.Equal(t, []chunk.Sample{{TS: 1000, V: 1}, {TS: 2000, V: 2}, {TS: 3000, V: 3}}, all)
	require.Equal(t, int64(1000), c.FirstTS())
	require.Equal(t, int64(3000), c.LastTS())
	require.Equal(t, 3, c.Len())
}

func TestXORChunkRoundTripRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		c := chunk.New(chunk.EncodingCompressed, 1<<20, nil)
		var want []chunk.Sample
		ts := int64(0)
		for i := 0; i < 300; i++ {
			ts += int64(rng.Intn(10000) + 1)
			v := rng.NormFloat64() * 1e6
			res := c.Push(ts, v)
			require.Equal(t, chunk.Added, res)
			want = append(want, chunk.Sample{TS: ts, V: v})
		}

		got := c.All()
		require.Equal(t, want, got)

		blob := c.Serialize()
		decoded, err := chunk.Deserialize(blob)
		require.NoError(t, err)
		require.Equal(t, want, decoded.All())
		require.Equal(t, c.FirstTS(), decoded.FirstTS())
		require.Equal(t, c.LastTS(), decoded.LastTS())
	}
}

func TestUncompressedChunkRoundTrip(t *testing.T) {
	c := chunk.New(chunk.EncodingUncompressed, 1<<20, nil)
	want := []chunk.Sample{{TS: 10, V: 1.5}, {TS: 20, V: -2.5}, {TS: 30, V: 3}}
	for _, s := range want {
		require.Equal(t, chunk.Added, c.Push(s.TS, s.V))
	}
	require.Equal(t, want, c.All())

	blob := c.Serialize()
	decoded, err := chunk.Deserialize(blob)
	require.NoError(t, err)
	require.Equal(t, want, decoded.All())
}

func TestChunkFullSignalsAtByteBudget(t *testing.T) {
	c := chunk.New(chunk.EncodingCompressed, 24, nil)
	res := c.Push(1, 1)
	require.Equal(t, chunk.Added, res)
	for i := 2; i < 1000; i++ {
		res = c.Push(int64(i), float64(i))
		if res == chunk.Full {
			return
		}
		require.Equal(t, chunk.Added, res)
	}
	t.Fatal("chunk never reported Full under a tiny byte budget")
}

func TestChunkSplitProducesEmptyTailSameEncoding(t *testing.T) {
	c := chunk.New(chunk.EncodingCompressed, chunk.DefaultMaxSize, nil)
	c.Push(1, 1)
	tail := c.Split()
	require.Equal(t, 0, tail.Len())
	require.Equal(t, c.Encoding(), tail.Encoding())
	require.Equal(t, chunk.Added, tail.Push(2, 2))
}

func TestChunkTrimBefore(t *testing.T) {
	c := chunk.New(chunk.EncodingCompressed, chunk.DefaultMaxSize, nil)
	for _, s := range []chunk.Sample{{TS: 1000, V: 1}, {TS: 2000, V: 2}, {TS: 3000, V: 3}} {
		c.Push(s.TS, s.V)
	}
	removed := c.TrimBefore(2000)
	require.Equal(t, 1, removed)
	require.Equal(t, []chunk.Sample{{TS: 2000, V: 2}, {TS: 3000, V: 3}}, c.All())
}

func TestChunkUpsertDuplicatePolicies(t *testing.T) {
	for _, tc := range []struct {
		policy chunk.DuplicatePolicy
		want   float64
	}{
		{chunk.PolicyFirst, 5},
		{chunk.PolicyLast, 3},
		{chunk.PolicyMin, 3},
		{chunk.PolicyMax, 7},
		{chunk.PolicySum, 15},
	} {
		c := chunk.New(chunk.EncodingCompressed, chunk.DefaultMaxSize, nil)
		c.Upsert(10, 5, tc.policy)
		c.Upsert(10, 7, tc.policy)
		c.Upsert(10, 3, tc.policy)
		all := c.All()
		require.Len(t, all, 1)
		require.Equal(t, tc.want, all[0].V)
	}
}

func TestChunkUpsertBlockRejectsDuplicate(t *testing.T) {
	c := chunk.New(chunk.EncodingCompressed, chunk.DefaultMaxSize, nil)
	require.Equal(t, chunk.UpsertAdded, c.Upsert(10, 5, chunk.PolicyBlock))
	require.Equal(t, chunk.UpsertBlocked, c.Upsert(10, 7, chunk.PolicyBlock))
	require.Equal(t, float64(5), c.All()[0].V)
}

func TestRoundingSignificantDigits(t *testing.T) {
	r := &chunk.Rounding{SignificantDigits: 3, DecimalDigits: -1}
	require.InDelta(t, 1230.0, r.Apply(1234.5), 1)
}

func TestRoundingDecimalDigits(t *testing.T) {
	r := &chunk.Rounding{SignificantDigits: -1, DecimalDigits: 2}
	require.InDelta(t, 1.23, r.Apply(1.2345), 0.001)
}
