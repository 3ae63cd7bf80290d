package capture

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lobacast/loba/internal/config"
	"github.com/lobacast/loba/pkg/audio"
)

// chunkCollector is a thread-safe Sink for tests.
type chunkCollector struct {
	mu     sync.Mutex
	chunks []audio.Chunk
}

func (c *chunkCollector) sink(chunk audio.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunk)
}

func (c *chunkCollector) all() []audio.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Chunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

func (c *chunkCollector) totalSamples() int {
	total := 0
	for _, ch := range c.all() {
		total += len(ch.Data) / 2
	}
	return total
}

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{
		SampleRate:      16000,
		Channels:        1,
		ChunkDurationMS: 100,
		Source:          "test-mic",
	}
}

func TestChunker_EmitsFixedSizeChunks(t *testing.T) {
	var col chunkCollector
	ck := newChunker(16000, 100*time.Millisecond, col.sink)

	// 100 ms at 16 kHz = 1600 samples. Push 2.5 chunks worth.
	ck.push(make([]int16, 4000))

	chunks := col.all()
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	for i, ch := range chunks {
		if got := len(ch.Data) / 2; got != 1600 {
			t.Errorf("chunk %d has %d samples, want 1600", i, got)
		}
		if ch.SampleRate != 16000 {
			t.Errorf("chunk %d sample rate = %d", i, ch.SampleRate)
		}
		if ch.Captured.IsZero() {
			t.Errorf("chunk %d has no capture time", i)
		}
	}

	ck.flush()
	chunks = col.all()
	if len(chunks) != 3 {
		t.Fatalf("chunks after flush = %d, want 3", len(chunks))
	}
	if got := len(chunks[2].Data) / 2; got != 800 {
		t.Errorf("flushed chunk has %d samples, want 800", got)
	}
}

func TestChunker_FlushEmptyIsNoop(t *testing.T) {
	var col chunkCollector
	ck := newChunker(16000, 100*time.Millisecond, col.sink)
	ck.flush()
	if len(col.all()) != 0 {
		t.Error("flush on empty buffer emitted a chunk")
	}
}

func TestReader_ChunksStream(t *testing.T) {
	// 300 ms of mono 16 kHz audio.
	samples := make([]int16, 4800)
	for i := range samples {
		samples[i] = int16(i % 512)
	}

	var col chunkCollector
	r, err := NewReader(bytes.NewReader(audio.Int16ToBytes(samples)), testAudioConfig(), col.sink)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := col.totalSamples(); got != 4800 {
		t.Errorf("total samples = %d, want 4800", got)
	}
	chunks := col.all()
	if len(chunks) != 3 {
		t.Errorf("chunks = %d, want 3", len(chunks))
	}
	// Byte-exact passthrough for mono input at the pipeline rate.
	if !bytes.Equal(chunks[0].Data, audio.Int16ToBytes(samples[:1600])) {
		t.Error("first chunk does not match input")
	}
}

func TestReader_DownmixesStereo(t *testing.T) {
	cfg := testAudioConfig()
	cfg.Channels = 2

	// Interleaved stereo where L=100, R=300 averages to 200.
	stereo := make([]int16, 3200)
	for i := 0; i < len(stereo); i += 2 {
		stereo[i] = 100
		stereo[i+1] = 300
	}

	var col chunkCollector
	r, err := NewReader(bytes.NewReader(audio.Int16ToBytes(stereo)), cfg, col.sink)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := col.totalSamples(); got != 1600 {
		t.Fatalf("total samples = %d, want 1600", got)
	}
	for _, s := range audio.BytesToInt16(col.all()[0].Data) {
		if s != 200 {
			t.Fatalf("downmixed sample = %d, want 200", s)
		}
	}
}

func TestReader_ResamplesTo16k(t *testing.T) {
	cfg := testAudioConfig()
	cfg.SampleRate = 48000

	// 100 ms at 48 kHz should become ~100 ms at 16 kHz (1600 samples).
	var col chunkCollector
	r, err := NewReader(bytes.NewReader(make([]byte, 4800*2)), cfg, col.sink)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := col.totalSamples(); got != 1600 {
		t.Errorf("total samples = %d, want 1600", got)
	}
}

func TestReader_ValidatesArguments(t *testing.T) {
	if _, err := NewReader(nil, testAudioConfig(), func(audio.Chunk) {}); err == nil {
		t.Error("nil reader accepted")
	}
	if _, err := NewReader(bytes.NewReader(nil), testAudioConfig(), nil); err == nil {
		t.Error("nil sink accepted")
	}
	if _, err := NewCommand(nil, testAudioConfig(), func(audio.Chunk) {}); err == nil {
		t.Error("empty command accepted")
	}
}

// failingReader returns an error after the first read.
type failingReader struct {
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.read {
		return 0, context.DeadlineExceeded
	}
	f.read = true
	n := copy(p, make([]byte, 320))
	return n, nil
}

func TestReader_ReadFailureIsFatal(t *testing.T) {
	var col chunkCollector
	r, err := NewReader(&failingReader{}, testAudioConfig(), col.sink)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("read failure did not surface")
	}
}
