// This file contains the NativeEngine implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/lobacast/loba/pkg/provider/stt"
)

// Compile-time assertion that NativeEngine satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeEngine)(nil)

// NativeEngine implements stt.Transcriber using the whisper.cpp Go bindings,
// eliminating HTTP overhead entirely. The ggml model is loaded once at
// construction and shared across all concurrent Transcribe calls; each call
// creates its own whisper context, which is the unit of thread confinement
// in whisper.cpp.
type NativeEngine struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeEngine.
type NativeOption func(*NativeEngine)

// WithNativeLanguage sets the BCP-47 language code for recognition
// (e.g., "en", "de", "pt"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(e *NativeEngine) { e.language = lang }
}

// NewNative creates a NativeEngine that loads the whisper.cpp model from the
// given file path. The caller must call Close when the engine is no longer
// needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeEngine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	e := &NativeEngine{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Close releases the whisper model.
func (e *NativeEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. The sampleRate argument is accepted
// for interface symmetry; whisper.cpp expects 16 kHz input and the pipeline
// always delivers it.
func (e *NativeEngine) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context cancelled: %w", err)
	}
	if sampleRate != 16000 {
		slog.Warn("whisper: native engine expects 16 kHz input", "sample_rate", sampleRate)
	}

	samples := pcmToFloat32(pcm)

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", e.language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// pcmToFloat32 converts 16-bit signed little-endian mono PCM to the
// normalized float32 samples whisper.cpp consumes.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
