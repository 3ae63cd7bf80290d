// Package audio defines the PCM chunk type that flows from capture sources
// into the caption pipeline, together with the low-level sample helpers the
// capture adapters need (int16 conversion, stereo downmix, resampling).
//
// All audio inside the pipeline is 16-bit signed little-endian PCM, mono.
// Capture sources that produce anything else (e.g. Discord's 48 kHz stereo
// Opus decode output) are responsible for converting before emitting chunks.
package audio

import "time"

// DefaultSampleRate is the pipeline-wide sample rate in Hz. whisper.cpp
// expects 16 kHz mono input, so every capture source converts to this rate.
const DefaultSampleRate = 16000

// VoiceHint is an optional speech/silence classification attached to a chunk
// by the capture source. Most sources leave it at VoiceUnknown and let the
// pipeline's own energy detector decide.
type VoiceHint int

const (
	// VoiceUnknown means the source did not classify the chunk.
	VoiceUnknown VoiceHint = iota

	// VoiceAbsent means the source classified the chunk as silence.
	VoiceAbsent

	// VoicePresent means the source classified the chunk as speech.
	VoicePresent
)

// Chunk is a fixed-duration buffer of 16-bit signed little-endian PCM
// samples, mono. Chunks are immutable once created; the pipeline owns a
// chunk only for the duration of a single ingest call.
type Chunk struct {
	// Data is the raw PCM payload. len(Data) is always even.
	Data []byte

	// SampleRate in Hz. Normally DefaultSampleRate.
	SampleRate int

	// Captured marks when the chunk was captured (monotonic clock).
	Captured time.Time

	// Voice is the source's own speech classification, if it made one.
	Voice VoiceHint
}

// Duration returns the playback duration of the chunk. Returns 0 when the
// sample rate is unset.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	samples := len(c.Data) / 2
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}
