package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Sink plays synthesised audio.
type Sink interface {
	// Play writes one frame. It returns ctx.Err() if ctx is already done.
	Play(ctx context.Context, f Frame) error
}

// WriterSink is a [Sink] that writes raw PCM to an io.Writer in a fixed
// output format. Mono frames at a different rate are resampled.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

// NewWriterSink returns a sink writing PCM in format f to w.
func NewWriterSink(w io.Writer, f Format) *WriterSink {
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return &WriterSink{w: w, format: f}
}

// Play writes f to the underlying writer.
func (s *WriterSink) Play(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := f.Data
	if f.Channels <= 1 && s.format.Channels == 1 && f.SampleRate != s.format.SampleRate {
		data = ResampleMono16(data, f.SampleRate, s.format.SampleRate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("audio: write sink: %w", err)
	}
	return nil
}

var _ Sink = (*WriterSink)(nil)
