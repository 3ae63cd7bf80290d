// Package stt defines the Transcriber interface for speech-to-text backends.
//
// Unlike streaming STT APIs, the caption pipeline performs its own utterance
// segmentation, so a backend only needs to transcribe one complete utterance
// at a time: raw PCM in, text out. Both the whisper.cpp HTTP server client
// and the in-process CGO engine implement this interface; tests use the mock
// subpackage.
//
// Implementations must be safe for concurrent use — the pipeline's worker
// pool transcribes multiple segments at once.
package stt

import "context"

// Transcriber converts one utterance of speech audio to text.
type Transcriber interface {
	// Transcribe recognizes speech in pcm, a buffer of 16-bit signed
	// little-endian mono samples at sampleRate Hz, and returns the
	// transcribed text. An utterance the engine hears as empty returns
	// ("", nil), not an error.
	//
	// Transcribe may block for seconds; callers bound it with the context
	// deadline. On timeout or engine failure the segment is dropped by the
	// caller — there is no retry contract.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}
