// Package event defines the subtitle event that travels from the pipeline to
// overlay subscribers, and its JSON wire encoding.
//
// The wire format is a flat JSON object:
//
//	{"type": "final", "text": "...", "timestamp": 1718000000.123,
//	 "language": "pt", "source": "default-mic"}
//
// Clear events carry an empty text field. Timestamps are Unix seconds with
// sub-second precision, matching what the overlay page expects.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates subtitle events.
type Type string

const (
	// Partial is an interim, unstable transcription.
	Partial Type = "partial"

	// Final is a finalized, translated caption.
	Final Type = "final"

	// Clear instructs subscribers to wipe the overlay.
	Clear Type = "clear"
)

// IsValid reports whether t is a recognized event type.
func (t Type) IsValid() bool {
	switch t {
	case Partial, Final, Clear:
		return true
	}
	return false
}

// Event is an immutable subtitle event. Create with NewFinal, NewPartial, or
// NewClear rather than struct literals so the timestamp is always populated.
type Event struct {
	Type      Type    `json:"type"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
	Language  string  `json:"language"`
	Source    string  `json:"source"`
}

// NewFinal creates a final caption event carrying translated text.
func NewFinal(text, language, source string) Event {
	return Event{
		Type:      Final,
		Text:      text,
		Timestamp: unixNow(),
		Language:  language,
		Source:    source,
	}
}

// NewPartial creates an interim caption event in the source language.
func NewPartial(text, language, source string) Event {
	return Event{
		Type:      Partial,
		Text:      text,
		Timestamp: unixNow(),
		Language:  language,
		Source:    source,
	}
}

// NewClear creates an overlay-clear event.
func NewClear(source string) Event {
	return Event{
		Type:      Clear,
		Timestamp: unixNow(),
		Source:    source,
	}
}

// Encode serializes the event to its JSON wire form.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: encode: %w", err)
	}
	return data, nil
}

// Decode parses a JSON wire event. Events with an unknown type are rejected.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("event: decode: %w", err)
	}
	if !e.Type.IsValid() {
		return Event{}, fmt.Errorf("event: unknown type %q", e.Type)
	}
	return e, nil
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
