package config

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/lobacast/loba/pkg/provider/stt"
	"github.com/lobacast/loba/pkg/provider/translate"
)

func TestDefaultRegistry_CreatesServerSTT(t *testing.T) {
	r := DefaultRegistry()
	eng, err := r.CreateSTT(Default().Whisper)
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if eng == nil {
		t.Fatal("nil engine")
	}
}

func TestDefaultRegistry_NoneTranslatorIsNil(t *testing.T) {
	r := DefaultRegistry()
	tr, err := r.CreateTranslator(TranslateConfig{Engine: "none"})
	if err != nil {
		t.Fatalf("CreateTranslator: %v", err)
	}
	if tr != nil {
		t.Error("none engine should yield a nil translator")
	}
}

func TestDefaultRegistry_UnknownEngineRejected(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.CreateTranslator(TranslateConfig{Engine: "babelfish"})
	if !errors.Is(err, ErrEngineNotRegistered) {
		t.Fatalf("err = %v, want ErrEngineNotRegistered", err)
	}
	_, err = r.CreateSTT(WhisperConfig{Mode: "grpc"})
	if !errors.Is(err, ErrEngineNotRegistered) {
		t.Fatalf("err = %v, want ErrEngineNotRegistered", err)
	}
}

func TestDefaultRegistry_ListsTranslatorEngines(t *testing.T) {
	r := DefaultRegistry()
	engines := r.TranslatorEngines()
	for _, want := range []string{"none", "openai", "ollama", "anthropic"} {
		if !slices.Contains(engines, want) {
			t.Errorf("engine list %v missing %q", engines, want)
		}
	}
}

func TestRegistry_CustomFactoryOverrides(t *testing.T) {
	r := DefaultRegistry()

	var called bool
	r.RegisterTranslator("none", func(TranslateConfig) (translate.Translator, error) {
		called = true
		return nil, nil
	})
	if _, err := r.CreateTranslator(TranslateConfig{Engine: "none"}); err != nil {
		t.Fatalf("CreateTranslator: %v", err)
	}
	if !called {
		t.Error("override factory not invoked")
	}

	r.RegisterSTT("fake", func(WhisperConfig) (stt.Transcriber, error) {
		return fakeSTT{}, nil
	})
	eng, err := r.CreateSTT(WhisperConfig{Mode: "fake"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if _, ok := eng.(fakeSTT); !ok {
		t.Error("custom factory not used")
	}
}

type fakeSTT struct{}

func (fakeSTT) Transcribe(ctx context.Context, pcm []byte, rate int) (string, error) {
	return "", nil
}
