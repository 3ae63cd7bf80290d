package audio

import (
	"testing"
	"time"
)

func TestBytesToInt16_RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := BytesToInt16(Int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToInt16_OddTrailingByteIgnored(t *testing.T) {
	got := BytesToInt16([]byte{0x01, 0x00, 0xff})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1]", got)
	}
}

func TestStereoToMono_AveragesPairs(t *testing.T) {
	stereo := []int16{100, 200, -100, 100, 32767, 32767}
	mono := StereoToMono(stereo)
	want := []int16{150, 0, 32767}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, mono[i], want[i])
		}
	}
}

func TestResampleMono_DownsamplesByRatio(t *testing.T) {
	in := make([]int16, 480) // 10 ms at 48 kHz
	out := ResampleMono(in, 48000, 16000)
	if len(out) != 160 {
		t.Fatalf("got %d samples, want 160", len(out))
	}
}

func TestResampleMono_SameRateCopies(t *testing.T) {
	in := []int16{1, 2, 3}
	out := ResampleMono(in, 16000, 16000)
	if len(out) != 3 {
		t.Fatalf("got %d samples, want 3", len(out))
	}
	out[0] = 99
	if in[0] == 99 {
		t.Error("output aliases input")
	}
}

func TestChunkDuration(t *testing.T) {
	c := Chunk{Data: make([]byte, 3200), SampleRate: 16000}
	if got := c.Duration(); got != 100*time.Millisecond {
		t.Errorf("got %v, want 100ms", got)
	}
	if got := (Chunk{Data: []byte{0, 0}}).Duration(); got != 0 {
		t.Errorf("zero sample rate: got %v, want 0", got)
	}
}
