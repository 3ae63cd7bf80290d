// Package app wires the Loba subsystems into a running application: capture
// source → caption pipeline → broadcast hub → overlay server.
//
// New creates and connects everything from the config; Run supervises the
// long-running pieces with an errgroup and blocks until the first fatal
// error or ctx cancellation; Shutdown releases held resources.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lobacast/loba/internal/capture"
	"github.com/lobacast/loba/internal/config"
	"github.com/lobacast/loba/internal/health"
	"github.com/lobacast/loba/internal/hub"
	"github.com/lobacast/loba/internal/observe"
	"github.com/lobacast/loba/internal/pipeline"
	"github.com/lobacast/loba/internal/resilience"
	"github.com/lobacast/loba/internal/server"
	"github.com/lobacast/loba/pkg/provider/stt"
	"github.com/lobacast/loba/pkg/provider/translate"
)

// Providers holds the engines resolved by main.go through the config
// registry. Translator may be nil when translation is disabled.
type Providers struct {
	Transcriber stt.Transcriber
	Translator  translate.Translator
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics sink instead of the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCaptureSource injects a capture source instead of building one from
// the config.
func WithCaptureSource(src capture.Source) Option {
	return func(a *App) { a.source = src }
}

// App owns the subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	hub    *hub.Hub
	coord  *pipeline.Coordinator
	server *server.Server
	source capture.Source

	transcriber stt.Transcriber

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// The overlay server drives the pipeline through this surface.
var _ server.Pipeline = (*pipeline.Coordinator)(nil)

// New wires the application. The providers come from the config registry in
// main.go.
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, transcriber: providers.Transcriber}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.hub = hub.New(hub.WithCountCallback(a.subscriberGauge()))

	// Breakers keep pipeline workers from stalling on a dead backend.
	transcriber := stt.Transcriber(resilience.NewTranscriber(
		providers.Transcriber, resilience.BreakerConfig{Name: "whisper"}))
	var translator translate.Translator
	if providers.Translator != nil {
		translator = resilience.NewTranslator(
			providers.Translator, resilience.BreakerConfig{Name: "translate"})
	}

	coord, err := pipeline.New(
		pipelineConfig(cfg),
		transcriber,
		translator,
		a.hub,
		pipeline.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: build pipeline: %w", err)
	}
	a.coord = coord

	srv, err := server.New(server.Config{
		Addr:      cfg.Server.Addr(),
		Overlay:   cfg.Overlay,
		Segmenter: cfg.Segmenter,
		Translate: cfg.Translate,
		ToggleKey: cfg.Trigger.ToggleKey,
	}, a.hub, coord, config.DefaultRegistry(),
		server.WithMetrics(a.metrics),
		server.WithHealth(a.readinessChecks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("app: build server: %w", err)
	}
	a.server = srv

	if a.source == nil {
		src, err := a.buildSource()
		if err != nil {
			return nil, fmt.Errorf("app: build capture source: %w", err)
		}
		a.source = src
	}

	if closer, ok := providers.Transcriber.(io.Closer); ok {
		a.closers = append(a.closers, closer.Close)
	}

	return a, nil
}

// buildSource picks the capture source: Discord voice when enabled,
// otherwise a capture subprocess or stdin.
func (a *App) buildSource() (capture.Source, error) {
	sink := capture.Sink(a.coord.Ingest)

	if a.cfg.Discord.Enabled {
		return capture.NewDiscord(a.cfg.Discord, a.cfg.Audio, sink)
	}
	if len(a.cfg.Audio.CaptureCommand) > 0 {
		return capture.NewCommand(a.cfg.Audio.CaptureCommand, a.cfg.Audio, sink)
	}
	slog.Info("capture: reading pcm from stdin")
	return capture.NewReader(os.Stdin, a.cfg.Audio, sink)
}

// subscriberGauge adapts the hub's count callback to the up/down counter.
func (a *App) subscriberGauge() func(int) {
	var mu sync.Mutex
	last := 0
	return func(count int) {
		mu.Lock()
		delta := int64(count - last)
		last = count
		mu.Unlock()
		if delta != 0 {
			a.metrics.ActiveSubscribers.Add(context.Background(), delta)
		}
	}
}

// readinessChecks builds the /readyz probes for the configured engines.
func (a *App) readinessChecks() []health.Checker {
	var checks []health.Checker

	if a.cfg.Whisper.Mode == config.WhisperServer {
		url := a.cfg.Whisper.ServerURL
		checks = append(checks, health.Checker{
			Name: "whisper",
			Check: func(ctx context.Context) error {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				if err != nil {
					return err
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return fmt.Errorf("whisper server unreachable: %w", err)
				}
				// Any HTTP response means the server is up; the root path
				// serves the whisper.cpp demo page.
				resp.Body.Close()
				return nil
			},
		})
	}

	checks = append(checks, health.Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			return nil
		},
	})
	return checks
}

// errCaptureEnded marks a capture source that finished cleanly (e.g. EOF on
// a piped file). It cancels the group so the rest of the app drains and
// stops, and Run maps it to a nil return.
var errCaptureEnded = fmt.Errorf("capture source ended")

// Run starts all long-running subsystems and blocks until one fails or ctx
// is cancelled. A capture source failure is fatal: captioning without audio
// is meaningless, so the whole application comes down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.coord.Run(ctx) })
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { return a.runCapture(ctx) })
	g.Go(func() error { return a.watchToggleSignal(ctx) })

	slog.Info("loba running",
		"addr", a.cfg.Server.Addr(),
		"whisper_mode", a.cfg.Whisper.Mode,
		"translate_engine", a.cfg.Translate.Engine,
		"discord", a.cfg.Discord.Enabled)

	err := g.Wait()
	if errors.Is(err, errCaptureEnded) {
		return nil
	}
	return err
}

// runCapture supervises the capture source. The source may block in a read
// that ignores ctx (stdin has no cancellable read), so it runs on its own
// goroutine and cancellation is handled here.
func (a *App) runCapture(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.source.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: capture failed: %w", err)
		}
		slog.Info("capture ended, shutting down")
		return errCaptureEnded
	}
}

// watchToggleSignal flips the caption gate on SIGUSR1. This is the
// integration point for OS-level hotkey managers: bind the configured key to
// `kill -USR1 $(pidof loba)` or `curl -X POST host:port/toggle`.
func (a *App) watchToggleSignal(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			slog.Debug("toggle signal received")
			a.coord.RequestToggle()
		}
	}
}

// Shutdown releases resources not torn down by Run's context cancellation,
// in reverse acquisition order. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}

// pipelineConfig converts the YAML pipeline block to the coordinator's
// native config.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		QueueSize:        cfg.Pipeline.QueueSize,
		Workers:          cfg.Pipeline.Workers,
		ResultHold:       time.Duration(cfg.Pipeline.ResultHoldMS) * time.Millisecond,
		DrainTimeout:     time.Duration(cfg.Pipeline.DrainTimeout) * time.Second,
		STTTimeout:       cfg.Whisper.Timeout(),
		TranslateTimeout: cfg.Translate.Timeout(),
		SourceLabel:      cfg.Audio.Source,
		Language:         captionLanguage(cfg),
		Segmenter:        cfg.Segmenter.Policy(),
	}
}

// captionLanguage picks the language code stamped on caption events: the
// translation target when translating, the recognition language otherwise.
func captionLanguage(cfg *config.Config) string {
	if cfg.Translate.Engine != "none" && cfg.Translate.TargetCode != "" {
		return cfg.Translate.TargetCode
	}
	if cfg.Whisper.Language != "" {
		return cfg.Whisper.Language
	}
	return "en"
}
