// Package openai provides a translate.Translator backed by any
// OpenAI-compatible chat completion API, including local llama.cpp and
// vLLM servers via WithBaseURL.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/lobacast/loba/pkg/provider/translate"
)

// Compile-time assertion that Translator implements translate.Translator.
var _ translate.Translator = (*Translator)(nil)

// Translator implements translate.Translator using the OpenAI chat API.
type Translator struct {
	client       oai.Client
	model        string
	systemPrompt string
	temperature  float64
}

// config holds optional configuration for the translator.
type config struct {
	baseURL     string
	timeout     time.Duration
	temperature float64
}

// Option is a functional option for Translator.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. to target a
// local llama.cpp server at "http://127.0.0.1:8080/v1".
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithTemperature sets the sampling temperature. Defaults to 0.2; captions
// want determinism, not creativity.
func WithTemperature(t float64) Option {
	return func(c *config) {
		c.temperature = t
	}
}

// New constructs a Translator that translates from sourceLang to targetLang
// (human-readable names, e.g. "English", "Portuguese").
func New(apiKey, model, sourceLang, targetLang string, opts ...Option) (*Translator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{temperature: 0.2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Translator{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		systemPrompt: translate.SystemPrompt(sourceLang, targetLang),
		temperature:  cfg.temperature,
	}, nil
}

// Translate implements translate.Translator.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(t.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(t.systemPrompt),
			oai.UserMessage(text),
		},
	}
	if t.temperature != 0 {
		params.Temperature = param.NewOpt(t.temperature)
	}

	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
