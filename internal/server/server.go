// Package server implements the overlay HTTP server: the WebSocket caption
// feed consumed by OBS browser sources, the embedded overlay and control
// pages, and the runtime settings surface.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lobacast/loba/internal/config"
	"github.com/lobacast/loba/internal/health"
	"github.com/lobacast/loba/internal/hub"
	"github.com/lobacast/loba/internal/observe"
	"github.com/lobacast/loba/internal/resilience"
	"github.com/lobacast/loba/internal/segment"
	"github.com/lobacast/loba/pkg/provider/translate"
)

//go:embed web/overlay.html web/control.html
var pages embed.FS

// Pipeline is the caption pipeline surface the server drives.
// *pipeline.Coordinator satisfies it.
type Pipeline interface {
	// RequestToggle asks the pipeline to flip the captioning gate. The flip
	// is applied asynchronously on the pipeline loop.
	RequestToggle()

	// Enabled reports the current gate position.
	Enabled() bool

	// QueueDepth reports the number of audio chunks waiting for the pipeline.
	QueueDepth() int

	// UpdateSegmenterConfig replaces the utterance timing policy.
	UpdateSegmenterConfig(segment.Config) error

	// SetTranslator swaps the translation engine. Nil disables translation.
	SetTranslator(translate.Translator)
}

// Config holds the server's settings, taken from the corresponding config
// file sections.
type Config struct {
	// Addr is the host:port listen address.
	Addr string

	// Overlay seeds the display settings forwarded to overlay pages.
	Overlay config.OverlayConfig

	// Segmenter seeds the runtime-tunable segmentation settings.
	Segmenter config.SegmenterConfig

	// Translate carries the translation engine settings (credentials, model)
	// that engine switches reuse.
	Translate config.TranslateConfig

	// ToggleKey names the global hotkey, reported read-only to the control
	// page.
	ToggleKey string

	// ReadTimeout and WriteTimeout bound plain HTTP requests. WriteTimeout
	// does not apply to the WebSocket feed, which is hijacked.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Option is a functional option for New.
type Option func(*Server)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth registers readiness checkers evaluated by /readyz.
func WithHealth(checkers ...health.Checker) Option {
	return func(s *Server) { s.health = health.New(checkers...) }
}

// Server is the overlay HTTP server. Create with New.
type Server struct {
	cfg     Config
	hub     *hub.Hub
	pipe    Pipeline
	engines *config.Registry
	metrics *observe.Metrics
	health  *health.Handler

	httpServer *http.Server
	handler    http.Handler

	// mu guards the mutable runtime settings below.
	mu        sync.Mutex
	overlay   config.OverlayConfig
	segmenter config.SegmenterConfig
	engine    string
}

// New creates the overlay server. h receives WebSocket subscribers, pipe is
// the caption pipeline the control surface drives, and engines resolves
// translation engine switches.
func New(cfg Config, h *hub.Hub, pipe Pipeline, engines *config.Registry, opts ...Option) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("server: addr must not be empty")
	}
	if h == nil || pipe == nil || engines == nil {
		return nil, errors.New("server: hub, pipeline, and registry are required")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:       cfg,
		hub:       h,
		pipe:      pipe,
		engines:   engines,
		health:    health.New(),
		overlay:   cfg.Overlay,
		segmenter: cfg.Segmenter,
		engine:    cfg.Translate.Engine,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully assembled HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// routes assembles the mux and wraps it with the metrics middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/overlay", http.StatusFound)
	})
	mux.HandleFunc("GET /overlay", s.handlePage("web/overlay.html"))
	mux.HandleFunc("GET /control", s.handlePage("web/control.html"))
	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("POST /toggle", s.handleToggle)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("POST /settings", s.handlePostSettings)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully. A normal
// shutdown returns nil; http.ErrServerClosed is swallowed.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}

	slog.Info("overlay server listening",
		"addr", s.cfg.Addr,
		"overlay", fmt.Sprintf("http://%s/overlay", s.cfg.Addr),
		"control", fmt.Sprintf("http://%s/control", s.cfg.Addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	}
}

// handlePage serves one embedded HTML page.
func (s *Server) handlePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := pages.ReadFile(name)
		if err != nil {
			http.Error(w, "page not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(data)
	}
}

// handleToggle flips the captioning gate. The flip is asynchronous; the
// reported state is the gate position before the pipeline processes it.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.pipe.RequestToggle()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "requested",
		"enabled": s.pipe.Enabled(),
	})
}

// handleStatus reports the live pipeline and hub state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":     s.pipe.Enabled(),
		"subscribers": s.hub.Count(),
		"queue_depth": s.pipe.QueueDepth(),
	})
}

// Settings is the JSON shape of the runtime settings surface. ToggleKey and
// EngineChoices are informational; POST ignores them.
type Settings struct {
	SubtitleTTLS       float64  `json:"subtitle_ttl_s"`
	MaxLines           int      `json:"max_lines"`
	SilenceThresholdMS int      `json:"silence_threshold_ms"`
	TranslationEngine  string   `json:"translation_engine"`
	EngineChoices      []string `json:"engine_choices,omitempty"`
	ToggleKey          string   `json:"toggle_key,omitempty"`
}

func (s *Server) currentSettings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Settings{
		SubtitleTTLS:       s.overlay.SubtitleTTLS,
		MaxLines:           s.overlay.MaxLines,
		SilenceThresholdMS: s.segmenter.SilenceThresholdMS,
		TranslationEngine:  s.engine,
		EngineChoices:      s.engines.TranslatorEngines(),
		ToggleKey:          s.cfg.ToggleKey,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentSettings())
}

// handlePostSettings applies a settings update. Display settings take effect
// on the next overlay page poll; segmenter and engine changes are handed to
// the pipeline and apply from the next utterance.
func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var req Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	if req.SubtitleTTLS <= 0 || req.MaxLines <= 0 || req.SilenceThresholdMS <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subtitle_ttl_s, max_lines, and silence_threshold_ms must be positive",
		})
		return
	}

	s.mu.Lock()
	segCfg := s.segmenter
	segCfg.SilenceThresholdMS = req.SilenceThresholdMS
	s.mu.Unlock()

	if err := s.pipe.UpdateSegmenterConfig(segCfg.Policy()); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if req.TranslationEngine != "" {
		if err := s.switchEngine(req.TranslationEngine); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	s.mu.Lock()
	s.overlay.SubtitleTTLS = req.SubtitleTTLS
	s.overlay.MaxLines = req.MaxLines
	s.segmenter = segCfg
	s.mu.Unlock()

	slog.Info("settings updated",
		"subtitle_ttl_s", req.SubtitleTTLS,
		"max_lines", req.MaxLines,
		"silence_threshold_ms", req.SilenceThresholdMS,
		"engine", req.TranslationEngine)

	writeJSON(w, http.StatusOK, s.currentSettings())
}

// switchEngine builds a translator for the named engine using the configured
// credentials and hands it to the pipeline.
func (s *Server) switchEngine(name string) error {
	s.mu.Lock()
	current := s.engine
	s.mu.Unlock()
	if name == current {
		return nil
	}

	engineCfg := s.cfg.Translate
	engineCfg.Engine = name
	tr, err := s.engines.CreateTranslator(engineCfg)
	if err != nil {
		return fmt.Errorf("switch translation engine: %w", err)
	}

	if tr != nil {
		tr = resilience.NewTranslator(tr, resilience.BreakerConfig{Name: "translate"})
	}
	s.pipe.SetTranslator(tr)
	s.mu.Lock()
	s.engine = name
	s.mu.Unlock()
	slog.Info("translation engine switched", "engine", name)
	return nil
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: response encode failed", "err", err)
	}
}
