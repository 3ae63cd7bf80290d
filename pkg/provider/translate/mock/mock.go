// Package mock provides a scriptable translate.Translator for tests.
package mock

import (
	"context"
	"sync"

	"github.com/lobacast/loba/pkg/provider/translate"
)

// Compile-time assertion that Translator implements translate.Translator.
var _ translate.Translator = (*Translator)(nil)

// Translator is a test double. Set TranslateFunc to script behavior; when
// nil, Translate echoes the input with Prefix prepended.
type Translator struct {
	// TranslateFunc, when non-nil, handles every Translate call.
	TranslateFunc func(ctx context.Context, text string) (string, error)

	// Prefix is prepended to echoed input when TranslateFunc is nil.
	Prefix string

	mu    sync.Mutex
	calls []string
}

// Translate implements translate.Translator.
func (m *Translator) Translate(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	if m.TranslateFunc != nil {
		return m.TranslateFunc(ctx, text)
	}
	return m.Prefix + text, nil
}

// Calls returns a copy of all texts passed to Translate so far.
func (m *Translator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Translate invocations so far.
func (m *Translator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
