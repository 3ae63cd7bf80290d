// Package segment implements the utterance segmenter: a small state machine
// that accumulates speech-classified PCM chunks into discrete utterances and
// decides when each utterance is done.
//
// The segmenter has two states, idle and speaking. Speech promotes idle to
// speaking and starts a fresh buffer; while speaking, every chunk is appended
// (silent chunks too, so brief in-utterance pauses survive). An utterance is
// finalized when trailing silence exceeds the silence threshold, or
// force-finalized when it reaches the maximum segment length. Utterances
// shorter than the minimum speech duration are discarded as noise.
//
// A Segmenter is not safe for concurrent use. The pipeline coordinator is
// its single owner and the only caller of its methods.
package segment

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the segmentation timing policy. All durations must be
// positive; Validate rejects anything else.
type Config struct {
	// EnergyThreshold is the normalized RMS level for the voice activity
	// detector that feeds this segmenter. Range (0, 1].
	EnergyThreshold float64

	// SilenceThreshold is the trailing-silence duration that finalizes an
	// utterance.
	SilenceThreshold time.Duration

	// MinSpeechDuration is the minimum utterance length. Anything shorter,
	// followed by qualifying silence, is discarded without emission.
	MinSpeechDuration time.Duration

	// MaxSegmentLength force-finalizes an utterance that is still going,
	// bounding both latency and buffer memory. A continuing utterance starts
	// a new segment immediately, so no samples are lost.
	MaxSegmentLength time.Duration

	// ChunkOverlap is carried for config-file compatibility with earlier
	// releases. It is not read by the finalize logic.
	ChunkOverlap time.Duration
}

// DefaultConfig returns the segmentation policy tuned for live dialogue.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold:   0.01,
		SilenceThreshold:  300 * time.Millisecond,
		MinSpeechDuration: 200 * time.Millisecond,
		MaxSegmentLength:  12 * time.Second,
		ChunkOverlap:      200 * time.Millisecond,
	}
}

// Validate checks that every tunable is positive. It returns a joined error
// listing all violations found.
func (c Config) Validate() error {
	var errs []error
	if c.EnergyThreshold <= 0 || c.EnergyThreshold > 1 {
		errs = append(errs, fmt.Errorf("segment: energy_threshold %v out of range (0, 1]", c.EnergyThreshold))
	}
	if c.SilenceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("segment: silence_threshold_ms must be positive, got %v", c.SilenceThreshold))
	}
	if c.MinSpeechDuration <= 0 {
		errs = append(errs, fmt.Errorf("segment: min_speech_duration_ms must be positive, got %v", c.MinSpeechDuration))
	}
	if c.MaxSegmentLength <= 0 {
		errs = append(errs, fmt.Errorf("segment: max_segment_length_s must be positive, got %v", c.MaxSegmentLength))
	}
	return errors.Join(errs...)
}

// Segment is one finalized utterance: the concatenated PCM of its chunks
// plus timing metadata. Ownership transfers to the caller on emission; the
// segmenter never touches an emitted segment again.
type Segment struct {
	// Data is the accumulated 16-bit PCM, including any trailing silence
	// chunks appended before finalization.
	Data []byte

	// Start and End bracket the utterance on the monotonic clock.
	Start time.Time
	End   time.Time

	// Final is always true for emitted segments.
	Final bool
}

// Duration returns End − Start.
func (s *Segment) Duration() time.Duration { return s.End.Sub(s.Start) }

// Segmenter accumulates classified chunks into utterances.
type Segmenter struct {
	cfg Config
	now func() time.Time

	buf          []byte
	speaking     bool
	segmentStart time.Time
	lastVoice    time.Time
}

// Option is a functional option for New.
type Option func(*Segmenter)

// WithClock replaces the time source. Tests use this to drive the timing
// policy deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// New creates a Segmenter in the idle state. cfg must have passed Validate.
func New(cfg Config, opts ...Option) *Segmenter {
	s := &Segmenter{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Process consumes one chunk with its voice classification and returns a
// finalized segment when the timing policy closes an utterance, or nil.
//
// A zero-length chunk carries no samples and no voice, so it behaves as
// silence; the segmenter never fails.
func (s *Segmenter) Process(data []byte, voice bool) *Segment {
	now := s.now()

	if voice {
		s.lastVoice = now
		if !s.speaking {
			s.speaking = true
			s.segmentStart = now
			s.buf = s.buf[:0]
		}
		s.buf = append(s.buf, data...)
	} else if s.speaking {
		// Still inside an utterance: keep the chunk, it may be a brief pause.
		s.buf = append(s.buf, data...)
	}

	return s.checkFinalize(now)
}

// checkFinalize evaluates the finalization rules after a chunk has been
// absorbed. Silence-based finalization wins over the max-length bound.
func (s *Segmenter) checkFinalize(now time.Time) *Segment {
	if !s.speaking {
		return nil
	}

	if silence := now.Sub(s.lastVoice); silence >= s.cfg.SilenceThreshold {
		if now.Sub(s.segmentStart) >= s.cfg.MinSpeechDuration {
			return s.finalize(now)
		}
		// Too short to be real speech.
		s.Reset()
		return nil
	}

	if now.Sub(s.segmentStart) >= s.cfg.MaxSegmentLength {
		return s.finalize(now)
	}

	return nil
}

// finalize emits the current buffer as a segment and returns to idle.
func (s *Segmenter) finalize(end time.Time) *Segment {
	seg := &Segment{
		Data:  append([]byte(nil), s.buf...),
		Start: s.segmentStart,
		End:   end,
		Final: true,
	}
	s.Reset()
	return seg
}

// ForceFinalize closes the in-progress utterance immediately, ignoring the
// timing policy. Used on mode-off and shutdown so speech right up to the
// toggle still produces a caption. No-op when idle or the buffer is empty.
func (s *Segmenter) ForceFinalize() *Segment {
	if !s.speaking || len(s.buf) == 0 {
		return nil
	}
	return s.finalize(s.now())
}

// Reset discards the buffer and returns to idle without emitting.
func (s *Segmenter) Reset() {
	s.buf = s.buf[:0]
	s.speaking = false
	s.segmentStart = time.Time{}
	s.lastVoice = time.Time{}
}

// Speaking reports whether an utterance is currently accumulating.
func (s *Segmenter) Speaking() bool { return s.speaking }

// Config returns the active timing policy.
func (s *Segmenter) Config() Config { return s.cfg }

// SetConfig replaces the timing policy. The new values apply from the next
// chunk; an utterance already accumulating keeps its buffer.
func (s *Segmenter) SetConfig(cfg Config) { s.cfg = cfg }
