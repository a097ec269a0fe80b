package aiotrack

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartFinishSingle(t *testing.T) {
	tr := New()
	require.True(t, tr.Idle())

	tr.Start()
	require.False(t, tr.Idle())
	require.Equal(t, int64(1), tr.Count())

	idle := tr.Finish()
	require.True(t, idle)
	require.True(t, tr.Idle())
}

// Invariant: only the Finish that brings the count back to zero reports
// idle; overlapping in-flight commands must not report idle prematurely.
func TestFinishReportsIdleOnlyAtZero(t *testing.T) {
	tr := New()
	tr.Start()
	tr.Start()
	require.Equal(t, int64(2), tr.Count())

	require.False(t, tr.Finish())
	require.True(t, tr.Finish())
}

// Invariant: a Finish with no matching Start is a programmer error
// (spec.md §4.1/§4.8), not a condition the tracker silently absorbs.
func TestFinishPanicsOnUnderflow(t *testing.T) {
	tr := New()
	require.Panics(t, func() { tr.Finish() })
}

func TestTrackerConcurrentStartFinish(t *testing.T) {
	tr := New()
	const n = 256
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			tr.Start()
			tr.Finish()
		}()
	}
	wg.Wait()
	require.True(t, tr.Idle())
	require.Equal(t, int64(0), tr.Count())
}
