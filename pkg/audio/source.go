package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultFrameMs is the frame length delivered by [ReaderSource] when none is
// configured.
const DefaultFrameMs = 20

// Source delivers captured audio frame by frame.
type Source interface {
	// ReadFrame blocks until the next frame is available. It returns io.EOF
	// once the underlying stream is exhausted.
	ReadFrame(ctx context.Context) (Frame, error)

	// Format reports the stream format. It is only meaningful after the first
	// successful ReadFrame for sources that detect the format from a header.
	Format() Format
}

// ReaderSource is a [Source] over an io.Reader carrying either raw PCM in a
// configured format or a WAV stream whose header overrides that format.
//
// Reads are serialised; a ReaderSource may be shared by successive
// recognition attempts, each continuing where the previous one stopped.
type ReaderSource struct {
	mu      sync.Mutex
	r       *bufio.Reader
	format  Format
	frameMs int
	probed  bool
}

// NewReaderSource returns a source reading from r. def is the format assumed
// for raw PCM input; frameMs <= 0 selects [DefaultFrameMs].
func NewReaderSource(r io.Reader, def Format, frameMs int) *ReaderSource {
	if frameMs <= 0 {
		frameMs = DefaultFrameMs
	}
	if def.Channels <= 0 {
		def.Channels = 1
	}
	return &ReaderSource{r: bufio.NewReader(r), format: def, frameMs: frameMs}
}

// Format returns the detected (or configured) stream format.
func (s *ReaderSource) Format() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// ReadFrame reads one frame of frameMs milliseconds. The final frame of a
// stream may be shorter. Context cancellation is checked before each read;
// a read already blocked on the reader is not interrupted.
func (s *ReaderSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.probed {
		if err := s.probe(); err != nil {
			return Frame{}, err
		}
		s.probed = true
	}

	size := s.format.BytesPerMs() * s.frameMs
	if size <= 0 {
		return Frame{}, fmt.Errorf("audio: invalid source format %+v", s.format)
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		if n < 2 {
			return Frame{}, io.EOF
		}
		buf = buf[:n&^1]
	case err != nil:
		return Frame{}, err
	}
	return Frame{Data: buf, SampleRate: s.format.SampleRate, Channels: s.format.Channels}, nil
}

// probe detects a WAV header at the start of the stream.
func (s *ReaderSource) probe() error {
	magic, err := s.r.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("audio: probe source: %w", err)
	}
	if string(magic) != "RIFF" {
		return nil
	}
	if _, err := s.r.Discard(4); err != nil {
		return err
	}
	f, err := readWAVHeader(s.r)
	if err != nil {
		return err
	}
	s.format = f
	return nil
}

var _ Source = (*ReaderSource)(nil)
