// Package pipeline implements the caption pipeline coordinator: the single
// goroutine that owns the mode gate, the utterance segmenter, and the epoch
// counter, and that glues capture → segmentation → asynchronous
// transcription+translation → broadcast.
//
// Concurrency model. Capture sources call Ingest from their own goroutines;
// the handoff is a bounded channel that drops the newest chunk when full, so
// Ingest never blocks. The coordinator goroutine started by Run is the only
// writer of mode, segmenter, and epoch state. Transcription and translation
// run on a semaphore-bounded worker pool; results come back over a channel
// into the same loop, where they pass the epoch gate, the duplicate filter,
// and the ordering sequencer before broadcast.
//
// Epoch rule: every dispatched segment is tagged with the epoch current at
// dispatch time. Toggling off increments the epoch, so a transcription that
// started before the toggle can never surface text after the overlay was
// cleared. The utterance still accumulating at the moment of toggle is
// force-finalized and dispatched after the increment, so it is captioned
// exactly once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lobacast/loba/internal/caption"
	"github.com/lobacast/loba/internal/event"
	"github.com/lobacast/loba/internal/mode"
	"github.com/lobacast/loba/internal/observe"
	"github.com/lobacast/loba/internal/segment"
	"github.com/lobacast/loba/internal/trigger"
	"github.com/lobacast/loba/internal/vad"
	"github.com/lobacast/loba/pkg/audio"
	"github.com/lobacast/loba/pkg/provider/stt"
	"github.com/lobacast/loba/pkg/provider/translate"
)

// Publisher is the broadcast boundary. hub.Hub satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) int
}

// Config holds the coordinator's tunables.
type Config struct {
	// QueueSize bounds the capture→coordinator chunk channel. When full,
	// the newest chunk is dropped and counted.
	QueueSize int

	// Workers bounds the number of concurrent transcription+translation
	// tasks. Minimum 2.
	Workers int64

	// ResultHold bounds how long the sequencer waits for a missing
	// predecessor before skipping it.
	ResultHold time.Duration

	// DrainTimeout bounds how long shutdown waits for in-flight worker
	// tasks before abandoning them.
	DrainTimeout time.Duration

	// STTTimeout and TranslateTimeout bound each engine call. A task that
	// exceeds its timeout drops the segment.
	STTTimeout       time.Duration
	TranslateTimeout time.Duration

	// SourceLabel names the originating device in broadcast events.
	SourceLabel string

	// Language is the target-language code stamped on caption events.
	Language string

	// Segmenter is the utterance timing policy.
	Segmenter segment.Config
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:        64,
		Workers:          2,
		ResultHold:       3 * time.Second,
		DrainTimeout:     10 * time.Second,
		STTTimeout:       30 * time.Second,
		TranslateTimeout: 30 * time.Second,
		SourceLabel:      "default-mic",
		Language:         "pt",
		Segmenter:        segment.DefaultConfig(),
	}
}

// Validate checks the configuration, returning a joined error listing all
// violations.
func (c Config) Validate() error {
	var errs []error
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: queue_size must be positive, got %d", c.QueueSize))
	}
	if c.Workers < 2 {
		errs = append(errs, fmt.Errorf("pipeline: workers must be at least 2, got %d", c.Workers))
	}
	if c.ResultHold <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: result_hold_ms must be positive, got %v", c.ResultHold))
	}
	if c.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: drain_timeout_s must be positive, got %v", c.DrainTimeout))
	}
	if c.STTTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: stt_timeout_s must be positive, got %v", c.STTTimeout))
	}
	if c.TranslateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: translate_timeout_s must be positive, got %v", c.TranslateTimeout))
	}
	if err := c.Segmenter.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// result is one finished worker task.
type result struct {
	epoch  uint64
	seq    uint64
	text   string
	ok     bool
	reason string // discard reason when !ok
}

// Coordinator is the pipeline core. Create with New, start with Run.
type Coordinator struct {
	cfg Config

	det     *vad.Detector
	seg     *segment.Segmenter
	modeCtl *mode.Controller
	filter  *caption.Filter
	seqr    *Sequencer

	transcriber stt.Transcriber
	translator  translate.Translator
	pub         Publisher
	metrics     *observe.Metrics

	chunks   chan audio.Chunk
	toggles  *trigger.Source
	results  chan result
	commands chan func()

	sem     *semaphore.Weighted
	workers sync.WaitGroup

	// epoch is written only by the coordinator goroutine.
	epoch uint64

	// enabled mirrors the mode state for lock-free reads from other
	// goroutines (status endpoints).
	enabled atomic.Bool

	// workCtx outlives the run context so in-flight tasks can finish during
	// the shutdown drain.
	workCtx    context.Context
	workCancel context.CancelFunc

	clock func() time.Time
}

// Option is a functional option for New.
type Option func(*Coordinator)

// WithMetrics overrides the metrics instance. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock replaces the time source for the segmenter and sequencer. Tests
// use this to drive timing policy deterministically.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.clock = now }
}

// New creates a Coordinator in the OFF state. transcriber and pub must be
// non-nil. A nil translator passes transcribed text through untranslated
// (the "none" engine choice).
func New(cfg Config, transcriber stt.Transcriber, translator translate.Translator, pub Publisher, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transcriber == nil {
		return nil, errors.New("pipeline: transcriber must not be nil")
	}
	if pub == nil {
		return nil, errors.New("pipeline: publisher must not be nil")
	}

	c := &Coordinator{
		cfg:         cfg,
		modeCtl:     &mode.Controller{},
		filter:      caption.NewFilter(caption.DefaultSimilarityThreshold),
		transcriber: transcriber,
		translator:  translator,
		pub:         pub,
		chunks:      make(chan audio.Chunk, cfg.QueueSize),
		toggles:     trigger.NewSource(),
		results:     make(chan result, cfg.Workers),
		commands:    make(chan func(), 8),
		sem:         semaphore.NewWeighted(cfg.Workers),
		clock:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	c.det = vad.New(cfg.Segmenter.EnergyThreshold)
	c.seg = segment.New(cfg.Segmenter, segment.WithClock(c.clock))
	c.seqr = NewSequencer(cfg.ResultHold, WithSequencerClock(c.clock))

	// The observer runs on the coordinator goroutine: Toggle is only ever
	// called from the run loop.
	c.modeCtl.Register(c.onModeChange)

	return c, nil
}

// Ingest hands one captured chunk to the coordinator. Safe to call from any
// goroutine; never blocks. When the intake queue is full the chunk is
// dropped and counted.
func (c *Coordinator) Ingest(chunk audio.Chunk) {
	select {
	case c.chunks <- chunk:
	default:
		c.metrics.ChunksDropped.Add(context.Background(), 1)
		slog.Warn("pipeline: intake queue full, chunk dropped")
	}
}

// RequestToggle asks the coordinator to flip the mode gate. Safe to call
// from any goroutine; toggles arriving faster than the loop consumes them
// are coalesced.
func (c *Coordinator) RequestToggle() {
	c.toggles.Fire()
}

// Enabled reports the current mode gate position. Safe to call from any
// goroutine.
func (c *Coordinator) Enabled() bool {
	return c.enabled.Load()
}

// QueueDepth returns the number of chunks waiting in the intake queue. Safe
// to call from any goroutine; used by status reporting.
func (c *Coordinator) QueueDepth() int {
	return len(c.chunks)
}

// UpdateSegmenterConfig replaces the segmentation timing policy. The change
// applies from the next chunk; segments already dispatched are unaffected.
func (c *Coordinator) UpdateSegmenterConfig(cfg segment.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.enqueueCommand(func() {
		c.seg.SetConfig(cfg)
		c.det = vad.New(cfg.EnergyThreshold)
		slog.Info("pipeline: segmenter config updated",
			"energy_threshold", cfg.EnergyThreshold,
			"silence_threshold", cfg.SilenceThreshold)
	})
	return nil
}

// SetTranslator replaces the translation engine. Tasks already dispatched
// keep the engine they were dispatched with; a nil translator passes text
// through untranslated.
func (c *Coordinator) SetTranslator(tr translate.Translator) {
	c.enqueueCommand(func() {
		c.translator = tr
	})
}

func (c *Coordinator) enqueueCommand(fn func()) {
	select {
	case c.commands <- fn:
	default:
		slog.Warn("pipeline: command queue full, request dropped")
	}
}

// Run drives the coordinator loop until ctx is cancelled, then drains
// in-flight work up to the configured deadline. Always returns nil; it
// exists to satisfy errgroup-style supervision.
func (c *Coordinator) Run(ctx context.Context) error {
	c.workCtx, c.workCancel = context.WithCancel(context.Background())
	defer c.workCancel()

	slog.Info("pipeline: coordinator started",
		"queue_size", c.cfg.QueueSize,
		"workers", c.cfg.Workers,
		"source", c.cfg.SourceLabel)

	for {
		// Arm the sequencer hold timer only while something is held.
		var expire <-chan time.Time
		if dl, ok := c.seqr.Deadline(); ok {
			expire = time.After(time.Until(dl))
		}

		select {
		case <-ctx.Done():
			c.drain()
			slog.Info("pipeline: coordinator stopped")
			return nil
		case chunk := <-c.chunks:
			c.handleChunk(chunk)
		case <-c.toggles.Events():
			st := c.modeCtl.Toggle()
			slog.Info("pipeline: mode toggled", "mode", st.String())
		case res := <-c.results:
			c.handleResult(res)
		case fn := <-c.commands:
			fn()
		case <-expire:
			c.publish(c.seqr.Expire())
		}
	}
}

// handleChunk gates, classifies, and segments one chunk on the coordinator
// goroutine.
func (c *Coordinator) handleChunk(chunk audio.Chunk) {
	if !c.modeCtl.Enabled() {
		return
	}

	var voice bool
	switch chunk.Voice {
	case audio.VoicePresent:
		voice = true
	case audio.VoiceAbsent:
		voice = false
	default:
		voice = c.det.Classify(chunk.Data)
	}

	seg := c.seg.Process(chunk.Data, voice)
	if seg == nil {
		return
	}

	reason := "silence"
	if seg.Duration() >= c.cfg.Segmenter.MaxSegmentLength {
		reason = "max_length"
	}
	c.metrics.RecordSegmentFinalized(context.Background(), reason, seg.Duration().Seconds())
	c.dispatch(seg)
}

// onModeChange is the mode observer. It runs synchronously inside Toggle on
// the coordinator goroutine.
func (c *Coordinator) onModeChange(st mode.State) {
	c.enabled.Store(st == mode.On)
	if st != mode.Off {
		return
	}

	// Invalidate in-flight work first, then rescue the utterance that was
	// still accumulating: dispatched after the increment, its result passes
	// the epoch gate and is captioned once.
	c.epoch++
	c.seqr.Reset()
	if seg := c.seg.ForceFinalize(); seg != nil {
		c.metrics.RecordSegmentFinalized(context.Background(), "forced", seg.Duration().Seconds())
		c.dispatch(seg)
	}
	c.seg.Reset()
	c.filter.Reset()

	c.pub.Publish(c.workCtx, event.NewClear(c.cfg.SourceLabel))
	c.metrics.RecordEventPublished(context.Background(), string(event.Clear))
}

// dispatch submits one finalized segment to the worker pool, tagged with the
// current epoch and the next sequence number. Blocks the coordinator while
// the pool is saturated; the bounded intake queue absorbs (or drops) chunks
// in the meantime.
func (c *Coordinator) dispatch(seg *segment.Segment) {
	ep := c.epoch
	sq := c.seqr.Next()
	// Captured here so the task keeps the engine it was dispatched with even
	// if SetTranslator swaps it mid-flight.
	tr := c.translator

	if err := c.sem.Acquire(c.workCtx, 1); err != nil {
		return
	}
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		defer c.sem.Release(1)

		res := c.process(seg, tr, ep, sq)
		select {
		case c.results <- res:
		case <-c.workCtx.Done():
		}
	}()
}

// process runs transcription and translation for one segment on a worker
// goroutine.
func (c *Coordinator) process(seg *segment.Segment, translator translate.Translator, ep, sq uint64) result {
	res := result{epoch: ep, seq: sq}
	ctx := c.workCtx

	sttCtx, cancel := context.WithTimeout(ctx, c.cfg.STTTimeout)
	start := time.Now()
	text, err := c.transcriber.Transcribe(sttCtx, seg.Data, audio.DefaultSampleRate)
	cancel()
	c.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		slog.Warn("pipeline: transcription failed, segment dropped",
			"duration", seg.Duration(), "err", err)
		c.metrics.RecordProviderError(ctx, "whisper", "stt")
		res.reason = "stt_error"
		return res
	}
	if text == "" {
		res.reason = "empty"
		return res
	}

	if translator != nil {
		trCtx, cancel := context.WithTimeout(ctx, c.cfg.TranslateTimeout)
		start = time.Now()
		translated, err := translator.Translate(trCtx, text)
		cancel()
		c.metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())

		if err != nil {
			slog.Warn("pipeline: translation failed, segment dropped",
				"text_len", len(text), "err", err)
			c.metrics.RecordProviderError(ctx, "translate", "translate")
			res.reason = "translate_error"
			return res
		}
		if translated == "" {
			res.reason = "empty"
			return res
		}
		text = translated
	}

	res.text = text
	res.ok = true
	return res
}

// handleResult applies the epoch gate, the duplicate filter, and the
// sequencer to one finished task on the coordinator goroutine.
func (c *Coordinator) handleResult(res result) {
	bg := context.Background()

	if res.epoch != c.epoch {
		c.metrics.StaleResults.Add(bg, 1)
		c.metrics.RecordSegmentDiscarded(bg, "stale")
		slog.Debug("pipeline: stale result suppressed",
			"result_epoch", res.epoch, "current_epoch", c.epoch)
		return
	}
	if !res.ok {
		c.metrics.RecordSegmentDiscarded(bg, res.reason)
		c.publish(c.seqr.Drop(res.seq))
		return
	}
	if !c.filter.Admit(res.text) {
		c.metrics.RecordSegmentDiscarded(bg, "duplicate")
		slog.Debug("pipeline: near-duplicate caption suppressed")
		c.publish(c.seqr.Drop(res.seq))
		return
	}

	ev := event.NewFinal(res.text, c.cfg.Language, c.cfg.SourceLabel)
	c.publish(c.seqr.Complete(res.seq, ev))
}

// publish broadcasts released events in order.
func (c *Coordinator) publish(evs []event.Event) {
	for _, ev := range evs {
		c.pub.Publish(c.workCtx, ev)
		c.metrics.RecordEventPublished(context.Background(), string(ev.Type))
	}
}

// drain finishes the pipeline on shutdown: flush the last accumulating
// utterance, keep consuming results while in-flight tasks complete, and
// abandon stragglers at the deadline.
func (c *Coordinator) drain() {
	if seg := c.seg.ForceFinalize(); seg != nil {
		c.metrics.RecordSegmentFinalized(context.Background(), "forced", seg.Duration().Seconds())
		c.dispatch(seg)
	}

	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()

	deadline := time.After(c.cfg.DrainTimeout)
	for {
		select {
		case res := <-c.results:
			c.handleResult(res)
		case <-done:
			c.publish(c.seqr.Flush())
			return
		case <-deadline:
			slog.Warn("pipeline: drain deadline exceeded, abandoning in-flight work",
				"timeout", c.cfg.DrainTimeout)
			return
		}
	}
}
