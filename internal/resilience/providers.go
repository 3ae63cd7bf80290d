package resilience

import (
	"context"

	"github.com/lobacast/loba/pkg/provider/stt"
	"github.com/lobacast/loba/pkg/provider/translate"
)

// Transcriber wraps an [stt.Transcriber] with a circuit breaker. While the
// breaker is open, Transcribe fails fast with [ErrBackendDown] and the
// segment is discarded instead of stalling a worker for the full timeout.
type Transcriber struct {
	inner   stt.Transcriber
	breaker *CircuitBreaker
}

// Compile-time interface assertions.
var (
	_ stt.Transcriber      = (*Transcriber)(nil)
	_ translate.Translator = (*Translator)(nil)
)

// NewTranscriber wraps inner with a breaker configured by cfg.
func NewTranscriber(inner stt.Transcriber, cfg BreakerConfig, opts ...BreakerOption) *Transcriber {
	return &Transcriber{inner: inner, breaker: NewCircuitBreaker(cfg, opts...)}
}

// Transcribe forwards to the wrapped transcriber through the breaker.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	var text string
	err := t.breaker.Execute(func() error {
		var innerErr error
		text, innerErr = t.inner.Transcribe(ctx, pcm, sampleRate)
		return innerErr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Unwrap returns the wrapped transcriber, so the app can still reach an
// io.Closer underneath (the native whisper binding holds a model handle).
func (t *Transcriber) Unwrap() stt.Transcriber { return t.inner }

// Translator wraps a [translate.Translator] with a circuit breaker.
type Translator struct {
	inner   translate.Translator
	breaker *CircuitBreaker
}

// NewTranslator wraps inner with a breaker configured by cfg.
func NewTranslator(inner translate.Translator, cfg BreakerConfig, opts ...BreakerOption) *Translator {
	return &Translator{inner: inner, breaker: NewCircuitBreaker(cfg, opts...)}
}

// Translate forwards to the wrapped translator through the breaker.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	var out string
	err := t.breaker.Execute(func() error {
		var innerErr error
		out, innerErr = t.inner.Translate(ctx, text)
		return innerErr
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
