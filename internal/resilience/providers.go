package resilience

import (
	"context"
	"sync"

	"github.com/MrWong99/voxa/pkg/audio"
	"github.com/MrWong99/voxa/pkg/provider/stt"
	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// STTFailover is an [stt.Provider] that opens each stream on the first
// healthy entry of its group. Failures after a stream is open are not
// retried, but a session that ends with an error counts against its
// provider's breaker.
type STTFailover struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STTFailover)(nil)

// NewSTTFailover returns a failover provider with primary as its first entry.
func NewSTTFailover(primaryName string, primary stt.Provider, cfg CircuitBreakerConfig) *STTFailover {
	return &STTFailover{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback appends a fallback provider.
func (f *STTFailover) AddFallback(name string, p stt.Provider) { f.group.Add(name, p) }

// Available reports whether any entry currently accepts streams.
func (f *STTFailover) Available() bool { return f.group.Available() }

// StartStream opens a session on the first entry that accepts it.
func (f *STTFailover) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	h, i, err := Do(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	return &trackedSession{SessionHandle: h, report: func() { f.group.ReportFailure(i) }}, nil
}

// trackedSession reports the session's error, if any, once it is closed.
type trackedSession struct {
	stt.SessionHandle
	report func()
	once   sync.Once
}

var _ stt.ErrorReporter = (*trackedSession)(nil)

func (s *trackedSession) Err() error { return stt.SessionErr(s.SessionHandle) }

func (s *trackedSession) Close() error {
	err := s.SessionHandle.Close()
	s.once.Do(func() {
		if s.Err() != nil {
			s.report()
		}
	})
	return err
}

// TTSFailover is a [tts.Provider] that synthesises on the first healthy entry
// of its group. Its output always has the primary's sample rate; audio from a
// fallback with a different rate is resampled.
type TTSFailover struct {
	group *Group[namedTTS]
}

type namedTTS struct {
	name string
	tts.Provider
}

var _ tts.Provider = (*TTSFailover)(nil)

// NewTTSFailover returns a failover provider with primary as its first entry.
func NewTTSFailover(primaryName string, primary tts.Provider, cfg CircuitBreakerConfig) *TTSFailover {
	return &TTSFailover{group: NewGroup(primaryName, namedTTS{primaryName, primary}, cfg)}
}

// AddFallback appends a fallback provider. name should match the Provider
// field of the voices p lists.
func (f *TTSFailover) AddFallback(name string, p tts.Provider) {
	f.group.Add(name, namedTTS{name, p})
}

// Available reports whether any entry currently accepts requests.
func (f *TTSFailover) Available() bool { return f.group.Available() }

// SampleRate returns the primary's sample rate.
func (f *TTSFailover) SampleRate() int { return f.group.Primary().SampleRate() }

// Synthesize starts synthesis on the first entry that accepts it. A voice
// that belongs to another provider is replaced by the entry's default voice.
func (f *TTSFailover) Synthesize(ctx context.Context, text string, voice tts.Voice, prosody tts.Prosody) (<-chan []byte, error) {
	var rate int
	ch, _, err := Do(f.group, func(p namedTTS) (<-chan []byte, error) {
		v := voice
		if v.Provider != "" && v.Provider != p.name {
			v = tts.Voice{}
		}
		rate = p.SampleRate()
		return p.Synthesize(ctx, text, v, prosody)
	})
	if err != nil {
		return nil, err
	}
	if dst := f.SampleRate(); rate != dst {
		return resample(ctx, ch, rate, dst), nil
	}
	return ch, nil
}

// ListVoices lists the voices of the first entry that answers.
func (f *TTSFailover) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	voices, _, err := Do(f.group, func(p namedTTS) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
	return voices, err
}

// resample converts every chunk of in from src to dst Hz.
func resample(ctx context.Context, in <-chan []byte, src, dst int) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer audio.Drain(in)
		for chunk := range in {
			select {
			case out <- audio.ResampleMono16(chunk, src, dst):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
