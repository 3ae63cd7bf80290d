// Package trigger models the toggle trigger: an opaque signal source that
// flips the caption gate, plus the static table of hotkey identifiers a
// config file may bind it to.
//
// The pipeline does not care where a toggle comes from — a global hotkey
// daemon, the control web page, or a test. Anything that can call Fire is a
// trigger source; the coordinator drains the Events channel.
package trigger

import "sort"

// Key identifies a supported toggle hotkey. Identifiers are resolved through
// a fixed table — no reflection, no dynamic key-object lookup.
type Key string

const (
	KeyF9  Key = "f9"
	KeyF10 Key = "f10"
	KeyF11 Key = "f11"
	KeyF12 Key = "f12"
)

// DefaultKey is the hotkey bound when the config does not name one.
const DefaultKey = KeyF11

var keyTable = map[string]Key{
	"f9":  KeyF9,
	"f10": KeyF10,
	"f11": KeyF11,
	"f12": KeyF12,
}

// Lookup resolves a config-file identifier to a Key. The second return is
// false for unrecognized names.
func Lookup(name string) (Key, bool) {
	k, ok := keyTable[name]
	return k, ok
}

// SupportedKeys returns the recognized identifiers in sorted order, for
// validation error messages.
func SupportedKeys() []string {
	names := make([]string, 0, len(keyTable))
	for name := range keyTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source is a toggle signal source. Fire is safe to call from any goroutine;
// a toggle that arrives while a previous one is still unconsumed is
// coalesced, since two unprocessed toggles in a row would cancel out anyway.
type Source struct {
	ch chan struct{}
}

// NewSource creates a Source with a single-slot signal buffer.
func NewSource() *Source {
	return &Source{ch: make(chan struct{}, 1)}
}

// Fire signals a toggle. Never blocks.
func (s *Source) Fire() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Events returns the channel the coordinator drains.
func (s *Source) Events() <-chan struct{} {
	return s.ch
}
