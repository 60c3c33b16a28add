package audit

import "sync/atomic"

// Sequencer hands out the global event sequence.
//
// The contract is gapless: Next only peeks at the following value, and the
// counter moves forward only when Commit confirms the event was stored. A
// failed append therefore never burns a sequence number.
//
// Sequencer is safe for concurrent use, but the Service calls it only while
// holding its append mutex.
type Sequencer struct {
	last atomic.Int64
}

// NewSequencerAt creates a sequencer whose last committed value is last.
// Use the chain head when resuming an existing log.
func NewSequencerAt(last int64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

// Next returns the sequence the next committed event must carry.
func (s *Sequencer) Next() int64 {
	return s.last.Load() + 1
}

// Commit records seq as stored. It reports false if seq does not directly
// follow the last committed value.
func (s *Sequencer) Commit(seq int64) bool {
	return s.last.CompareAndSwap(seq-1, seq)
}

// Current returns the last committed sequence (0 for an empty log).
func (s *Sequencer) Current() int64 {
	return s.last.Load()
}

// Reset moves the sequencer to last. Used to resynchronize with the store
// after a failed append.
func (s *Sequencer) Reset(last int64) {
	s.last.Store(last)
}
