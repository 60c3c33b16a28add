package audit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencer_NextDoesNotConsume(t *testing.T) {
	seq := NewSequencerAt(0)
	assert.Equal(t, int64(1), seq.Next())
	assert.Equal(t, int64(1), seq.Next())
	assert.Equal(t, int64(0), seq.Current())
}

func TestSequencer_CommitAdvances(t *testing.T) {
	seq := NewSequencerAt(41)
	assert.True(t, seq.Commit(42))
	assert.Equal(t, int64(42), seq.Current())
	assert.Equal(t, int64(43), seq.Next())
}

func TestSequencer_CommitRejectsOutOfOrder(t *testing.T) {
	seq := NewSequencerAt(5)
	assert.False(t, seq.Commit(7))
	assert.False(t, seq.Commit(5))
	assert.Equal(t, int64(5), seq.Current())
}

func TestSequencer_Reset(t *testing.T) {
	seq := NewSequencerAt(10)
	seq.Reset(3)
	assert.Equal(t, int64(4), seq.Next())
}

func TestSequencer_ConcurrentCommitsAreGapless(t *testing.T) {
	seq := NewSequencerAt(0)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			assert.True(t, seq.Commit(seq.Next()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), seq.Current())
}
