package auth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(5, 15*time.Minute, clock.Now)

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("10.0.0.1")
		require.True(t, ok, "attempt %d should be admitted", i+1)
	}
	ok, retry := l.Allow("10.0.0.1")
	require.False(t, ok)
	require.Equal(t, 15*time.Minute, retry)

	clock.Advance(10 * time.Minute)
	ok, retry = l.Allow("10.0.0.1")
	require.False(t, ok)
	require.Equal(t, 5*time.Minute, retry)

	clock.Advance(5 * time.Minute)
	ok, _ = l.Allow("10.0.0.1")
	require.True(t, ok, "window reset should admit again")
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(1, time.Minute, clock.Now)

	ok, _ := l.Allow("a")
	require.True(t, ok)
	ok, _ = l.Allow("a")
	require.False(t, ok)
	ok, _ = l.Allow("b")
	require.True(t, ok)
}

func TestRateLimiterFailsOpenWithoutKey(t *testing.T) {
	l := NewRateLimiter(1, time.Minute, nil)
	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("")
		require.True(t, ok)
	}
	require.Zero(t, l.Len())
}

func TestRateLimiterEvictsExpiredBuckets(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(3, time.Minute, clock.Now)
	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.Len())

	clock.Advance(time.Minute)
	l.Allow("c")
	require.Equal(t, 1, l.Len())
}

func TestRateLimiterConcurrentAdmission(t *testing.T) {
	l := NewRateLimiter(10, time.Hour, nil)
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("shared"); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 10, admitted.Load())
}
