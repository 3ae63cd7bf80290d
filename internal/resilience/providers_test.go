package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	sttmock "github.com/lobacast/loba/pkg/provider/stt/mock"
	translatemock "github.com/lobacast/loba/pkg/provider/translate/mock"
)

func TestTranscriber_ForwardsResult(t *testing.T) {
	inner := &sttmock.Transcriber{Text: "bom dia"}
	tr := NewTranscriber(inner, BreakerConfig{Name: "stt"})

	got, err := tr.Transcribe(context.Background(), []byte{0, 0}, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "bom dia" {
		t.Errorf("text = %q, want %q", got, "bom dia")
	}
}

func TestTranscriber_FailsFastWhileOpen(t *testing.T) {
	backendErr := errors.New("whisper server down")
	inner := &sttmock.Transcriber{
		TranscribeFunc: func(context.Context, []byte, int) (string, error) {
			return "", backendErr
		},
	}
	tr := NewTranscriber(inner, BreakerConfig{Name: "stt", MaxFailures: 2})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := tr.Transcribe(ctx, nil, 16000); !errors.Is(err, backendErr) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}

	_, err := tr.Transcribe(ctx, nil, 16000)
	if !errors.Is(err, ErrBackendDown) {
		t.Fatalf("err while open = %v, want ErrBackendDown", err)
	}
	if got := inner.CallCount(); got != 2 {
		t.Errorf("backend called %d times, want 2 (third call rejected)", got)
	}
}

func TestTranscriber_Unwrap(t *testing.T) {
	inner := &sttmock.Transcriber{}
	tr := NewTranscriber(inner, BreakerConfig{Name: "stt"})
	if tr.Unwrap() != inner {
		t.Error("Unwrap did not return the wrapped transcriber")
	}
}

func TestTranslator_ForwardsResult(t *testing.T) {
	inner := &translatemock.Translator{Prefix: "pt:"}
	tr := NewTranslator(inner, BreakerConfig{Name: "translate"})

	got, err := tr.Translate(context.Background(), "good morning")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "pt:good morning" {
		t.Errorf("text = %q", got)
	}
}

func TestTranslator_RecoversAfterCooldown(t *testing.T) {
	clk := newStepClock()
	healthy := false
	inner := &translatemock.Translator{
		TranslateFunc: func(_ context.Context, text string) (string, error) {
			if !healthy {
				return "", errors.New("api quota exceeded")
			}
			return "ok:" + text, nil
		},
	}
	tr := NewTranslator(inner,
		BreakerConfig{Name: "translate", MaxFailures: 1, Cooldown: 15 * time.Second, ProbeSuccesses: 1},
		WithBreakerClock(clk.now))

	ctx := context.Background()
	if _, err := tr.Translate(ctx, "x"); err == nil {
		t.Fatal("expected failure from unhealthy backend")
	}
	if _, err := tr.Translate(ctx, "x"); !errors.Is(err, ErrBackendDown) {
		t.Fatalf("err while open = %v, want ErrBackendDown", err)
	}

	healthy = true
	clk.advance(15 * time.Second)

	got, err := tr.Translate(ctx, "x")
	if err != nil {
		t.Fatalf("Translate after recovery: %v", err)
	}
	if got != "ok:x" {
		t.Errorf("text = %q", got)
	}
}
