package pipeline

import (
	"time"

	"github.com/lobacast/loba/internal/event"
)

// Sequencer restores submission order for caption events. Worker tasks
// complete in arbitrary order under engine latency variance; each dispatched
// segment takes a sequence number from Next, and completed events are held
// until every predecessor has either completed, been dropped, or exceeded
// the hold timeout. A blocked head-of-line slot is skipped after the hold
// timeout so one slow transcription cannot dam the caption stream; if its
// result arrives later anyway, it is released immediately rather than lost.
//
// A Sequencer is owned by the pipeline coordinator and is not safe for
// concurrent use.
type Sequencer struct {
	hold time.Duration
	now  func() time.Time

	next    uint64 // lowest sequence not yet released
	tail    uint64 // next sequence Next will hand out
	pending map[uint64]seqEntry

	// holdStart marks when the current head-of-line wait began. Zero while
	// nothing is pending.
	holdStart time.Time
}

type seqEntry struct {
	ev event.Event
	ok bool
}

// SequencerOption is a functional option for NewSequencer.
type SequencerOption func(*Sequencer)

// WithSequencerClock replaces the time source. Tests use this to drive the
// hold timeout deterministically.
func WithSequencerClock(now func() time.Time) SequencerOption {
	return func(s *Sequencer) { s.now = now }
}

// NewSequencer creates a Sequencer with the given hold timeout.
func NewSequencer(hold time.Duration, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		hold:    hold,
		now:     time.Now,
		pending: make(map[uint64]seqEntry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Next allocates the sequence number for the next dispatched segment.
func (s *Sequencer) Next() uint64 {
	seq := s.tail
	s.tail++
	return seq
}

// Complete records a finished event for seq and returns all events now
// releasable, in sequence order. A straggler whose slot was already skipped
// by the hold timeout is returned immediately.
func (s *Sequencer) Complete(seq uint64, ev event.Event) []event.Event {
	if seq < s.next {
		return []event.Event{ev}
	}
	s.pending[seq] = seqEntry{ev: ev, ok: true}
	return s.release()
}

// Drop records that seq will never produce an event (engine failure, empty
// transcription, duplicate caption) and returns any successors that become
// releasable.
func (s *Sequencer) Drop(seq uint64) []event.Event {
	if seq < s.next {
		return nil
	}
	s.pending[seq] = seqEntry{}
	return s.release()
}

// Deadline returns when the current head-of-line wait expires. The second
// return is false while nothing is held.
func (s *Sequencer) Deadline() (time.Time, bool) {
	if len(s.pending) == 0 {
		return time.Time{}, false
	}
	return s.holdStart.Add(s.hold), true
}

// Expire releases held events once the hold timeout has elapsed, skipping
// the missing head-of-line slot. Returns nil when nothing is expired.
func (s *Sequencer) Expire() []event.Event {
	if len(s.pending) == 0 || s.now().Before(s.holdStart.Add(s.hold)) {
		return nil
	}
	s.next = s.minPending()
	s.holdStart = time.Time{}
	return s.release()
}

// Flush releases everything still held, in sequence order, skipping every
// gap. Used on shutdown after the worker drain.
func (s *Sequencer) Flush() []event.Event {
	var out []event.Event
	for len(s.pending) > 0 {
		s.next = s.minPending()
		out = append(out, s.release()...)
	}
	s.holdStart = time.Time{}
	return out
}

// Reset discards all held events and realigns with the dispatch counter.
// Called on mode-off: results for outstanding slots are suppressed by the
// epoch gate before they reach the sequencer, so their gaps must not stall
// post-toggle captions.
func (s *Sequencer) Reset() {
	clear(s.pending)
	s.next = s.tail
	s.holdStart = time.Time{}
}

// Pending returns the number of held slots.
func (s *Sequencer) Pending() int { return len(s.pending) }

// release pops the consecutive run starting at next and re-arms the hold
// timer if anything is still waiting behind a gap.
func (s *Sequencer) release() []event.Event {
	var out []event.Event
	for {
		e, ok := s.pending[s.next]
		if !ok {
			break
		}
		delete(s.pending, s.next)
		s.next++
		if e.ok {
			out = append(out, e.ev)
		}
	}
	if len(s.pending) == 0 {
		s.holdStart = time.Time{}
	} else if s.holdStart.IsZero() {
		s.holdStart = s.now()
	}
	return out
}

func (s *Sequencer) minPending() uint64 {
	first := true
	var min uint64
	for seq := range s.pending {
		if first || seq < min {
			min = seq
			first = false
		}
	}
	return min
}
