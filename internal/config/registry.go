package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lobacast/loba/pkg/provider/stt"
	"github.com/lobacast/loba/pkg/provider/stt/whisper"
	"github.com/lobacast/loba/pkg/provider/translate"
	"github.com/lobacast/loba/pkg/provider/translate/anyllm"
	"github.com/lobacast/loba/pkg/provider/translate/openai"
)

// ErrEngineNotRegistered is returned by Create* methods when no factory has
// been registered under the requested engine name.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// anyllmEngines lists the any-llm-go backend names the default registry
// exposes as translation engine choices.
var anyllmEngines = []string{
	"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp",
}

// Registry maps engine names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	stt       map[string]func(WhisperConfig) (stt.Transcriber, error)
	translate map[string]func(TranslateConfig) (translate.Translator, error)
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:       make(map[string]func(WhisperConfig) (stt.Transcriber, error)),
		translate: make(map[string]func(TranslateConfig) (translate.Translator, error)),
	}
}

// DefaultRegistry returns a [Registry] preloaded with the built-in engines:
// whisper.cpp over HTTP ("server") and in-process ("native") for
// transcription; "none", "openai", and the any-llm-go backends for
// translation.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterSTT(string(WhisperServer), func(cfg WhisperConfig) (stt.Transcriber, error) {
		opts := []whisper.Option{whisper.WithTimeout(cfg.Timeout())}
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		if cfg.Model != "" {
			opts = append(opts, whisper.WithModel(cfg.Model))
		}
		return whisper.New(cfg.ServerURL, opts...)
	})
	r.RegisterSTT(string(WhisperNative), func(cfg WhisperConfig) (stt.Transcriber, error) {
		var opts []whisper.NativeOption
		if cfg.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(cfg.Language))
		}
		return whisper.NewNative(cfg.ModelPath, opts...)
	})

	// "none" broadcasts transcribed text untranslated.
	r.RegisterTranslator("none", func(TranslateConfig) (translate.Translator, error) {
		return nil, nil
	})
	r.RegisterTranslator("openai", func(cfg TranslateConfig) (translate.Translator, error) {
		opts := []openai.Option{openai.WithTimeout(cfg.Timeout())}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.APIKey, cfg.Model, cfg.SourceLanguage, cfg.TargetLanguage, opts...)
	})
	for _, name := range anyllmEngines {
		name := name
		r.RegisterTranslator(name, func(cfg TranslateConfig) (translate.Translator, error) {
			var opts []anyllmlib.Option
			if cfg.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
			}
			if cfg.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
			}
			return anyllm.New(name, cfg.Model, cfg.SourceLanguage, cfg.TargetLanguage, opts...)
		})
	}

	return r
}

// RegisterSTT registers a transcription engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(WhisperConfig) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTranslator registers a translation engine factory under name.
func (r *Registry) RegisterTranslator(name string, factory func(TranslateConfig) (translate.Translator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translate[name] = factory
}

// CreateSTT instantiates the transcription engine selected by cfg.Mode.
// Returns [ErrEngineNotRegistered] for unknown modes.
func (r *Registry) CreateSTT(cfg WhisperConfig) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[string(cfg.Mode)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrEngineNotRegistered, cfg.Mode)
	}
	return factory(cfg)
}

// CreateTranslator instantiates the translation engine selected by
// cfg.Engine. A nil translator with nil error means translation is disabled.
func (r *Registry) CreateTranslator(cfg TranslateConfig) (translate.Translator, error) {
	r.mu.RLock()
	factory, ok := r.translate[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translate/%q", ErrEngineNotRegistered, cfg.Engine)
	}
	return factory(cfg)
}

// TranslatorEngines returns the registered translation engine names. Used by
// the settings surface to enumerate valid choices.
func (r *Registry) TranslatorEngines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.translate))
	for name := range r.translate {
		names = append(names, name)
	}
	return names
}
