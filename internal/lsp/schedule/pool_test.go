package schedule

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolClampsSize(t *testing.T) {
	p := NewPool(0, zap.NewNop())
	defer p.Close()
	require.Equal(t, 1, p.Size())
}

func TestPoolRunsEveryJob(t *testing.T) {
	p := NewPool(4, zap.NewNop())
	var count atomic.Int32
	for i := 0; i < 100; i++ {
		require.True(t, p.Submit(func() { count.Add(1) }))
	}
	require.NoError(t, p.Close())
	require.Equal(t, int32(100), count.Load())
}

func TestPoolSurvivesPanics(t *testing.T) {
	p := NewPool(1, zap.NewNop())
	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() { panic("boom") })
	p.Submit(func() { wg.Done() })
	wg.Wait()
	require.NoError(t, p.Close())
}

func TestPoolSingleWorkerIsFIFO(t *testing.T) {
	p := NewPool(1, zap.NewNop())
	var order []int
	for i := 0; i < 10; i++ {
		n := i
		p.Submit(func() { order = append(order, n) })
	}
	require.NoError(t, p.Close())
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}
