package concurrent_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashts/flashts/concurrent"
)

func TestForEachShardCoversEveryIndex(t *testing.T) {
	p := concurrent.New(4)
	var seen [100]int32
	err := p.ForEachShard(context.Background(), 100, func(_ context.Context, start, end int) error {
		for i := start; i < end; i++ {
			atomic.AddInt32(&seen[i], 1)
		}
		return nil
	})
	require.NoError(t, err)
	for i, c := range seen {
		require.EqualValues(t, 1, c, "index %d", i)
	}
}

func TestDeadlineZeroNeverExpires(t *testing.T) {
	dl := concurrent.NewDeadline(0)
	defer dl.Stop()
	require.False(t, dl.Expired())
}
