package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtStart(t *testing.T) {
	clock := NewManualClock(10)
	assert.Equal(t, 10.0, clock.Now())
}

func TestManualClock_AdvanceAndSet(t *testing.T) {
	clock := NewManualClock(0)

	assert.Equal(t, 1.5, clock.Advance(1.5))
	assert.Equal(t, 1.5, clock.Advance(-3), "negative durations are ignored")

	clock.Set(4)
	assert.Equal(t, 4.0, clock.Now())

	clock.Set(2)
	assert.Equal(t, 4.0, clock.Now(), "the clock never goes backwards")
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock(0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Advance(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, clock.Now())
}

func TestFixedRunIDs_Numbered(t *testing.T) {
	gen := NewFixedRunIDs()
	assert.Equal(t, "run-1", gen.Generate())
	assert.Equal(t, "run-2", gen.Generate())
}

func TestFixedRunIDs_GivenIDsThenPanic(t *testing.T) {
	gen := NewFixedRunIDs("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
