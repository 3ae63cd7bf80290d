package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewFinal_PopulatesAllFields(t *testing.T) {
	before := float64(time.Now().UnixNano()) / float64(time.Second)
	e := NewFinal("olá mundo", "pt", "default-mic")

	if e.Type != Final {
		t.Errorf("type = %q, want final", e.Type)
	}
	if e.Text != "olá mundo" {
		t.Errorf("text = %q", e.Text)
	}
	if e.Language != "pt" || e.Source != "default-mic" {
		t.Errorf("language/source = %q/%q", e.Language, e.Source)
	}
	if e.Timestamp < before {
		t.Errorf("timestamp %v predates creation", e.Timestamp)
	}
}

func TestNewClear_CarriesNoText(t *testing.T) {
	e := NewClear("default-mic")
	if e.Text != "" {
		t.Errorf("clear event has text %q", e.Text)
	}
	if e.Type != Clear {
		t.Errorf("type = %q, want clear", e.Type)
	}
}

func TestEncode_WireFormatFieldNames(t *testing.T) {
	data, err := NewFinal("hello", "en", "mic").Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "text", "timestamp", "language", "source"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("wire object missing %q field", key)
		}
	}
	if raw["type"] != "final" {
		t.Errorf("type = %v, want final", raw["type"])
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	orig := NewPartial("still talking", "en", "mic")
	data, err := orig.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != orig {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, orig)
	}
}

func TestDecode_UnknownType_Rejected(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus","text":"x"}`))
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("error %q does not name the bad type", err)
	}
}

func TestDecode_MalformedJSON_Rejected(t *testing.T) {
	if _, err := Decode([]byte(`{`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
