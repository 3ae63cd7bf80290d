package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lobacast/loba/internal/config"
	"github.com/lobacast/loba/internal/event"
	"github.com/lobacast/loba/internal/hub"
	"github.com/lobacast/loba/internal/segment"
	"github.com/lobacast/loba/pkg/provider/translate"
	translatemock "github.com/lobacast/loba/pkg/provider/translate/mock"
)

// fakePipeline records control surface calls.
type fakePipeline struct {
	mu         sync.Mutex
	toggles    atomic.Int32
	enabled    atomic.Bool
	segCfg     segment.Config
	translator translate.Translator
	updateErr  error
}

func (f *fakePipeline) RequestToggle() { f.toggles.Add(1) }
func (f *fakePipeline) Enabled() bool  { return f.enabled.Load() }
func (f *fakePipeline) QueueDepth() int {
	return 3
}

func (f *fakePipeline) UpdateSegmenterConfig(cfg segment.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.segCfg = cfg
	return nil
}

func (f *fakePipeline) SetTranslator(tr translate.Translator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.translator = tr
}

func (f *fakePipeline) lastSegConfig() segment.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.segCfg
}

func (f *fakePipeline) lastTranslator() translate.Translator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.translator
}

// newTestServer builds a server around a fresh hub and fake pipeline.
func newTestServer(t *testing.T) (*Server, *hub.Hub, *fakePipeline, *config.Registry) {
	t.Helper()

	h := hub.New()
	pipe := &fakePipeline{}
	reg := config.DefaultRegistry()

	defaults := config.Default()
	s, err := New(Config{
		Addr:      "127.0.0.1:0",
		Overlay:   defaults.Overlay,
		Segmenter: defaults.Segmenter,
		Translate: defaults.Translate,
		ToggleKey: "f11",
	}, h, pipe, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, h, pipe, reg
}

func TestServer_RedirectsRootToOverlay(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != "/overlay" {
		t.Errorf("Location = %q, want /overlay", loc)
	}
}

func TestServer_ServesEmbeddedPages(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	for _, path := range []string{"/overlay", "/control"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s: Content-Type = %q", path, ct)
		}
		if !strings.Contains(rec.Body.String(), "/ws") {
			t.Errorf("%s: page does not reference the caption feed", path)
		}
	}
}

func TestServer_ToggleRequestsPipeline(t *testing.T) {
	s, _, pipe, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/toggle", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if got := pipe.toggles.Load(); got != 1 {
		t.Errorf("toggle requests = %d, want 1", got)
	}
}

func TestServer_StatusReportsState(t *testing.T) {
	s, _, pipe, _ := newTestServer(t)
	pipe.enabled.Store(true)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body struct {
		Enabled     bool `json:"enabled"`
		Subscribers int  `json:"subscribers"`
		QueueDepth  int  `json:"queue_depth"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Enabled {
		t.Error("enabled = false, want true")
	}
	if body.QueueDepth != 3 {
		t.Errorf("queue_depth = %d, want 3", body.QueueDepth)
	}
}

func TestSettings_GetReturnsDefaults(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/settings", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var got Settings
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SubtitleTTLS != 4.5 {
		t.Errorf("subtitle_ttl_s = %v, want 4.5", got.SubtitleTTLS)
	}
	if got.MaxLines != 2 {
		t.Errorf("max_lines = %d, want 2", got.MaxLines)
	}
	if got.TranslationEngine != "none" {
		t.Errorf("translation_engine = %q, want none", got.TranslationEngine)
	}
	if got.ToggleKey != "f11" {
		t.Errorf("toggle_key = %q, want f11", got.ToggleKey)
	}
	if len(got.EngineChoices) == 0 {
		t.Error("engine_choices is empty")
	}
}

func TestSettings_PostAppliesSegmenterChange(t *testing.T) {
	s, _, pipe, _ := newTestServer(t)

	body, _ := json.Marshal(Settings{
		SubtitleTTLS:       6,
		MaxLines:           3,
		SilenceThresholdMS: 450,
	})
	req := httptest.NewRequest("POST", "/settings", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if got := pipe.lastSegConfig().SilenceThreshold; got != 450*time.Millisecond {
		t.Errorf("silence threshold = %v, want 450ms", got)
	}

	var got Settings
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SubtitleTTLS != 6 || got.MaxLines != 3 {
		t.Errorf("settings after update = %+v", got)
	}
}

func TestSettings_PostRejectsInvalid(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	for _, body := range []string{
		`{"subtitle_ttl_s": 0, "max_lines": 2, "silence_threshold_ms": 300}`,
		`{"subtitle_ttl_s": 4, "max_lines": -1, "silence_threshold_ms": 300}`,
		`not json`,
	} {
		req := httptest.NewRequest("POST", "/settings", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestSettings_SwitchesTranslationEngine(t *testing.T) {
	s, _, pipe, reg := newTestServer(t)

	mock := &translatemock.Translator{}
	reg.RegisterTranslator("fake", func(config.TranslateConfig) (translate.Translator, error) {
		return mock, nil
	})

	body, _ := json.Marshal(Settings{
		SubtitleTTLS:       4.5,
		MaxLines:           2,
		SilenceThresholdMS: 300,
		TranslationEngine:  "fake",
	})
	req := httptest.NewRequest("POST", "/settings", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	// The pipeline receives the new engine behind a circuit breaker.
	tr := pipe.lastTranslator()
	if tr == nil {
		t.Fatal("pipeline did not receive the new translator")
	}
	if _, err := tr.Translate(context.Background(), "hello"); err != nil {
		t.Fatalf("switched translator: %v", err)
	}
	if mock.CallCount() != 1 {
		t.Error("switched translator did not delegate to the new engine")
	}

	var got Settings
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TranslationEngine != "fake" {
		t.Errorf("translation_engine = %q, want fake", got.TranslationEngine)
	}
}

func TestSettings_UnknownEngineRejected(t *testing.T) {
	s, _, pipe, _ := newTestServer(t)

	body := `{"subtitle_ttl_s": 4.5, "max_lines": 2, "silence_threshold_ms": 300, "translation_engine": "babelfish"}`
	req := httptest.NewRequest("POST", "/settings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if pipe.lastTranslator() != nil {
		t.Error("translator changed despite rejected engine")
	}
}

func TestServer_HealthAndMetricsRoutes(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestWS_DeliversPublishedCaptions(t *testing.T) {
	s, h, _, _ := newTestServer(t)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The subscriber registers before Accept returns, but poll to be safe.
	waitForSubscribers(t, h, 1)

	h.Publish(ctx, event.NewFinal("olá mundo", "pt", "default-mic"))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ev, err := event.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != event.Final || ev.Text != "olá mundo" {
		t.Errorf("event = %+v", ev)
	}
}

func TestWS_PingPong(t *testing.T) {
	s, h, _, _ := newTestServer(t)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitForSubscribers(t, h, 1)

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "pong" {
		t.Errorf("reply type = %q, want pong", msg.Type)
	}
}

func TestWS_ToggleMessageForwarded(t *testing.T) {
	s, h, pipe, _ := newTestServer(t)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitForSubscribers(t, h, 1)

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"toggle"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pipe.toggles.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("toggle message never reached the pipeline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWS_DisconnectRemovesSubscriber(t *testing.T) {
	s, h, _, _ := newTestServer(t)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitForSubscribers(t, h, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForSubscribers(t, h, 0)
}

// waitForSubscribers polls the hub until it reaches want subscribers.
func waitForSubscribers(t *testing.T, h *hub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count = %d, want %d", h.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
