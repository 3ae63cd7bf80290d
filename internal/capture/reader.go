package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/lobacast/loba/internal/config"
	"github.com/lobacast/loba/pkg/audio"
)

// readBuffer is the raw read size. Large enough to amortise syscalls, small
// enough to keep capture latency below one chunk.
const readBuffer = 4096

// Reader captures from an io.Reader carrying raw 16-bit little-endian PCM at
// the configured rate and channel count, such as a pipe from arecord or
// ffmpeg. Stereo input is downmixed; any rate is resampled to the pipeline
// rate.
type Reader struct {
	r    io.Reader
	cfg  config.AudioConfig
	sink Sink
}

// NewReader creates a PCM stream source.
func NewReader(r io.Reader, cfg config.AudioConfig, sink Sink) (*Reader, error) {
	if r == nil {
		return nil, errors.New("capture: reader must not be nil")
	}
	if sink == nil {
		return nil, errors.New("capture: sink must not be nil")
	}
	return &Reader{r: r, cfg: cfg, sink: sink}, nil
}

// Run consumes the stream until EOF or ctx cancellation. EOF ends the
// capture cleanly; read failures are fatal.
func (s *Reader) Run(ctx context.Context) error {
	ck := newChunker(audio.DefaultSampleRate, s.cfg.ChunkDuration(), s.sink)

	slog.Info("capture: pcm reader started",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
		"chunk", s.cfg.ChunkDuration())

	buf := make([]byte, readBuffer)
	// Carries an odd trailing byte between reads so samples never split.
	var pending []byte

	for {
		if err := ctx.Err(); err != nil {
			ck.flush()
			return nil
		}

		n, err := s.r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			usable := len(pending) &^ 1
			if usable > 0 {
				ck.push(s.convert(audio.BytesToInt16(pending[:usable])))
				pending = pending[usable:]
			}
		}
		if err != nil {
			ck.flush()
			if errors.Is(err, io.EOF) {
				slog.Info("capture: pcm stream ended")
				return nil
			}
			return fmt.Errorf("capture: read pcm stream: %w", err)
		}
	}
}

// convert downmixes and resamples raw input samples to pipeline format.
func (s *Reader) convert(samples []int16) []int16 {
	if s.cfg.Channels == 2 {
		samples = audio.StereoToMono(samples)
	}
	if s.cfg.SampleRate != audio.DefaultSampleRate {
		samples = audio.ResampleMono(samples, s.cfg.SampleRate, audio.DefaultSampleRate)
	}
	return samples
}

// Command captures from a subprocess that writes raw PCM to stdout, e.g.
//
//	ffmpeg -f pulse -i default -f s16le -ar 16000 -ac 1 -
//
// The subprocess is killed when ctx is cancelled; an unexpected exit is
// fatal.
type Command struct {
	argv []string
	cfg  config.AudioConfig
	sink Sink
}

// NewCommand creates a subprocess capture source.
func NewCommand(argv []string, cfg config.AudioConfig, sink Sink) (*Command, error) {
	if len(argv) == 0 {
		return nil, errors.New("capture: command must not be empty")
	}
	if sink == nil {
		return nil, errors.New("capture: sink must not be nil")
	}
	return &Command{argv: argv, cfg: cfg, sink: sink}, nil
}

// Run starts the subprocess and streams its stdout through a [Reader].
func (s *Command) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture: pipe %s: %w", s.argv[0], err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("capture: start %s: %w", s.argv[0], err)
	}
	slog.Info("capture: subprocess started", "command", s.argv[0], "pid", cmd.Process.Pid)

	reader, err := NewReader(stdout, s.cfg, s.sink)
	if err != nil {
		return err
	}
	runErr := reader.Run(ctx)

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		// Cancelled: the kill-induced exit status is expected noise.
		return runErr
	}
	if waitErr != nil {
		return fmt.Errorf("capture: %s exited: %w", s.argv[0], waitErr)
	}
	if runErr != nil {
		return runErr
	}

	// The subprocess ended on its own with a clean status. For a live
	// capture feed that still means the audio is gone.
	return fmt.Errorf("capture: %s ended unexpectedly", s.argv[0])
}

// Compile-time interface assertions.
var (
	_ Source = (*Reader)(nil)
	_ Source = (*Command)(nil)
)
