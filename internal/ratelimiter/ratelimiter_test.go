package ratelimiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStable_AcquireBoundedByCapacityAndPeriod(t *testing.T) {
	const capacity = 20
	const period = 50 * time.Millisecond
	const runFor = 165 * time.Millisecond // ~3.3 periods

	s := NewStable(capacity, period)
	s.Start()
	defer s.Stop()

	var completed atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if !s.Acquire() {
					return
				}
				completed.Add(1)
			}
		}()
	}

	time.Sleep(runFor)
	close(stop)
	wg.Wait()

	got := completed.Load()
	// The initial full bucket plus refills at ~50, 100 and 150ms: about 80
	// tokens; generous bounds for CI jitter.
	assert.GreaterOrEqual(t, got, int64(20))
	assert.LessOrEqual(t, got, int64(100))
}

func TestStable_StopUnblocksWaiters(t *testing.T) {
	s := NewStable(1, time.Hour) // effectively never refills within the test
	s.Start()

	require := assert.New(t)
	require.True(s.Acquire()) // drains the single token

	done := make(chan bool, 1)
	go func() {
		done <- s.Acquire()
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case admitted := <-done:
		require.False(admitted)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after Stop")
	}
	assert.True(t, s.IsStopped())
}

func TestStable_ZeroCapacityNeverAdmits(t *testing.T) {
	s := NewStable(0, 10*time.Millisecond)
	s.Start()
	defer s.Stop()
	assert.False(t, s.Acquire())
}

func TestRampUp_GrowsTowardMaxThreshold(t *testing.T) {
	const maxThreshold = 100
	const step = 25
	const rampPeriod = 20 * time.Millisecond
	const refillPeriod = 20 * time.Millisecond

	r := NewRampUp(maxThreshold, step, rampPeriod, refillPeriod)
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool {
		return r.CurrentThreshold() >= maxThreshold
	}, 2*time.Second, 10*time.Millisecond, "ramp-up never reached maxThreshold")
}

func TestRampUp_StopUnblocksWaiters(t *testing.T) {
	r := NewRampUp(100, 100, time.Millisecond, time.Millisecond)
	r.Start()

	assert.Eventually(t, func() bool {
		return r.CurrentThreshold() > 0
	}, time.Second, time.Millisecond)

	done := make(chan bool, 1)
	go func() {
		for r.Acquire() {
			// drain until stopped
		}
		done <- true
	}()

	time.Sleep(10 * time.Millisecond)
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RampUp did not stop draining goroutine")
	}
}
