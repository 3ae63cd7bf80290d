// Package translate defines the Translator interface for caption translation
// backends.
//
// Translation sits between transcription and broadcast in the caption
// pipeline: one finalized utterance of source-language text in, one
// target-language caption out. Backends are LLM-based (OpenAI-compatible
// chat APIs or any-llm-go multi-provider); tests use the mock subpackage.
//
// Implementations must be safe for concurrent use — the pipeline's worker
// pool translates multiple segments at once.
package translate

import "context"

// Translator converts one caption of text to the target language.
type Translator interface {
	// Translate returns the translated text for one utterance. Empty input
	// returns ("", nil). Translate may block on a network round trip;
	// callers bound it with the context deadline. On timeout or engine
	// failure the segment is dropped by the caller — there is no retry
	// contract.
	Translate(ctx context.Context, text string) (string, error)
}
