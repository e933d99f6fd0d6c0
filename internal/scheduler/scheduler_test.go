package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobTicksUntilStopped(t *testing.T) {
	var calls int32
	s := &Scheduler{jobs: make(map[int]*Job)}

	id := s.AddJob("test-tick", 10*time.Millisecond, func(now time.Time) {
		atomic.AddInt32(&calls, 1)
	})

	time.Sleep(55 * time.Millisecond)
	require.True(t, s.RemoveJob(id))

	seenAtStop := atomic.LoadInt32(&calls)
	require.GreaterOrEqual(t, seenAtStop, int32(3))

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, seenAtStop, atomic.LoadInt32(&calls))

	_, ok := s.GetJob(id)
	require.False(t, ok)
}

func TestStopAllStopsEveryJob(t *testing.T) {
	s := &Scheduler{jobs: make(map[int]*Job)}
	var calls int32
	s.AddJob("a", 5*time.Millisecond, func(time.Time) { atomic.AddInt32(&calls, 1) })
	s.AddJob("b", 5*time.Millisecond, func(time.Time) { atomic.AddInt32(&calls, 1) })

	time.Sleep(20 * time.Millisecond)
	s.StopAll()

	after := atomic.LoadInt32(&calls)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt32(&calls))
}
