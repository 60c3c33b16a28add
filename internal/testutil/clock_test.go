package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepClock_StartsAtEpoch(t *testing.T) {
	clock := NewStepClock()
	assert.Equal(t, Epoch, clock.Peek())
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
}

func TestStepClock_ZeroStepIsFrozen(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewStepClockAt(start, 0)
	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now())
}

func TestStepClock_SetAndAdvance(t *testing.T) {
	clock := NewStepClock()
	target := time.Date(2027, 6, 1, 12, 0, 0, 0, time.UTC)

	clock.Set(target)
	assert.Equal(t, target, clock.Peek())

	clock.Advance(time.Hour)
	assert.Equal(t, target.Add(time.Hour), clock.Now())
}

func TestStepClock_ThreadSafety(t *testing.T) {
	clock := NewStepClock()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(50*time.Second), clock.Peek())
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("link")
	assert.Equal(t, "link-000001", ids.Generate())
	assert.Equal(t, "link-000002", ids.Generate())

	ids.Reset()
	assert.Equal(t, "link-000001", ids.Generate())

	assert.Equal(t, "id-000001", NewSequentialIDs("").Generate())
}
