// Package mock provides a scriptable stt.Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/lobacast/loba/pkg/provider/stt"
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber is a test double. Set TranscribeFunc to script behavior; when
// nil, Transcribe returns Text with no error. All calls are recorded and
// retrievable via Calls.
type Transcriber struct {
	// TranscribeFunc, when non-nil, handles every Transcribe call.
	TranscribeFunc func(ctx context.Context, pcm []byte, sampleRate int) (string, error)

	// Text is returned by Transcribe when TranscribeFunc is nil.
	Text string

	mu    sync.Mutex
	calls []Call
}

// Call records the arguments of one Transcribe invocation.
type Call struct {
	PCM        []byte
	SampleRate int
}

// Transcribe implements stt.Transcriber.
func (m *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{PCM: pcm, SampleRate: sampleRate})
	m.mu.Unlock()
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, pcm, sampleRate)
	}
	return m.Text, nil
}

// Calls returns a copy of all recorded invocations.
func (m *Transcriber) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Transcribe invocations so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
