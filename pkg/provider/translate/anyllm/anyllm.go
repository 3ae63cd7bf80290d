// Package anyllm provides a translate.Translator backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// local llama.cpp servers behind one API.
//
// Usage:
//
//	tr, err := anyllm.New("ollama", "qwen2.5:3b", "English", "Portuguese")
//	tr, err := anyllm.New("groq", "llama-3.1-8b-instant", "English", "German",
//		anyllmlib.WithAPIKey("gsk-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/lobacast/loba/pkg/provider/translate"
)

// Compile-time assertion that Translator implements translate.Translator.
var _ translate.Translator = (*Translator)(nil)

// Translator implements translate.Translator by wrapping any-llm-go.
type Translator struct {
	backend      anyllmlib.Provider
	model        string
	systemPrompt string
	temperature  float64
}

// New creates a Translator backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp". model is the specific model to
// use. sourceLang and targetLang are human-readable language names used in
// the translation prompt.
//
// opts are any-llm-go options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend
// falls back to the relevant environment variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, etc.).
func New(providerName, model, sourceLang, targetLang string, opts ...anyllmlib.Option) (*Translator, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Translator{
		backend:      backend,
		model:        model,
		systemPrompt: translate.SystemPrompt(sourceLang, targetLang),
		temperature:  0.2,
	}, nil
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp", providerName)
	}
}

// Translate implements translate.Translator.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	temp := t.temperature
	params := anyllmlib.CompletionParams{
		Model: t.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: t.systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: &temp,
	}

	resp, err := t.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}
