// Package capture provides the audio sources that feed the caption pipeline:
// a PCM stream reader for local devices (via a capture subprocess or pipe)
// and a Discord voice-channel source.
//
// Every source emits fixed-duration 16-bit mono PCM chunks at the pipeline
// sample rate through its [Sink]. A source failure is fatal to the
// application; captioning without audio is meaningless.
package capture

import (
	"context"
	"time"

	"github.com/lobacast/loba/pkg/audio"
)

// Sink receives captured chunks. It must not block; the pipeline's Ingest
// satisfies this.
type Sink func(audio.Chunk)

// Source is a running audio capture. Run blocks until ctx is cancelled or
// the capture fails. A non-nil error means the audio feed is gone and the
// application should shut down.
type Source interface {
	Run(ctx context.Context) error
}

// chunker slices an incoming mono sample stream into fixed-duration chunks.
// Not safe for concurrent use; each source owns one chunker on its own
// goroutine.
type chunker struct {
	sampleRate int
	chunkSize  int // samples per emitted chunk
	sink       Sink
	now        func() time.Time

	buf []int16
}

func newChunker(sampleRate int, chunkDuration time.Duration, sink Sink) *chunker {
	size := int(time.Duration(sampleRate) * chunkDuration / time.Second)
	if size <= 0 {
		size = sampleRate / 10
	}
	return &chunker{
		sampleRate: sampleRate,
		chunkSize:  size,
		sink:       sink,
		now:        time.Now,
	}
}

// push appends samples and emits every complete chunk they fill.
func (c *chunker) push(samples []int16) {
	c.buf = append(c.buf, samples...)
	for len(c.buf) >= c.chunkSize {
		c.emit(c.buf[:c.chunkSize])
		c.buf = c.buf[c.chunkSize:]
	}
}

// flush emits any buffered remainder as a short final chunk.
func (c *chunker) flush() {
	if len(c.buf) == 0 {
		return
	}
	c.emit(c.buf)
	c.buf = c.buf[:0]
}

func (c *chunker) emit(samples []int16) {
	c.sink(audio.Chunk{
		Data:       audio.Int16ToBytes(samples),
		SampleRate: c.sampleRate,
		Captured:   c.now(),
	})
}
