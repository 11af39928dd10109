// Package speech runs the assistant on real audio: recognition streams frames
// from an [audio.Source] into an [stt.Provider], and synthesis plays the
// output of a [tts.Provider] into an [audio.Sink].
//
// Each recognition attempt is a single utterance. It ends at the first
// non-empty final transcript, or when the source runs dry and the provider
// has flushed what it buffered. Failures are reported with the same error
// codes a browser would use.
package speech

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/voxa/internal/conversation"
	"github.com/MrWong99/voxa/internal/observe"
	"github.com/MrWong99/voxa/internal/platform"
	"github.com/MrWong99/voxa/internal/session"
	"github.com/MrWong99/voxa/pkg/audio"
	"github.com/MrWong99/voxa/pkg/provider/stt"
	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// ErrSynthesisUnavailable is returned by Speak when no synthesiser is
// configured.
var ErrSynthesisUnavailable = errors.New("speech: synthesis not configured")

// Option configures a [Platform].
type Option func(*Platform)

// WithRecognition sets the recogniser and the audio it listens to.
func WithRecognition(p stt.Provider, src audio.Source, name string) Option {
	return func(pl *Platform) {
		pl.stt = p
		pl.source = src
		pl.sttName = name
	}
}

// WithSynthesis sets the synthesiser and where its audio is played.
func WithSynthesis(p tts.Provider, sink audio.Sink, name string) Option {
	return func(pl *Platform) {
		pl.tts = p
		pl.sink = sink
		pl.ttsName = name
	}
}

// WithMetrics records provider requests and errors to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Platform) { pl.metrics = m }
}

// WithTrigger triggers a recognition for every line read from r, so pressing
// Enter in a terminal starts listening.
func WithTrigger(r io.Reader) Option {
	return func(pl *Platform) { pl.trigger = r }
}

// WithTranscript prints every conversation log line to w.
func WithTranscript(w io.Writer) Option {
	return func(pl *Platform) { pl.transcript = w }
}

// Platform is the provider-backed platform. It implements
// [session.Recognizer] and [session.Synthesizer].
type Platform struct {
	stt        stt.Provider
	source     audio.Source
	sttName    string
	tts        tts.Provider
	sink       audio.Sink
	ttsName    string
	metrics    *observe.Metrics
	trigger    io.Reader
	transcript io.Writer

	mu          sync.Mutex
	recognizing bool
	current     uint64
	stopSpeech  context.CancelFunc
}

// New returns a platform with the given options. Without [WithRecognition]
// it reports no recognition capability; without [WithSynthesis] it is
// text-only.
func New(opts ...Option) *Platform {
	p := &Platform{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities reports which providers are configured.
func (p *Platform) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		Recognition: p.stt != nil && p.source != nil,
		Synthesis:   p.tts != nil && p.sink != nil,
	}
}

// ListVoices returns the synthesiser's voices, or none when text-only.
func (p *Platform) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	if p.tts == nil {
		return nil, nil
	}
	voices, err := p.tts.ListVoices(ctx)
	if err != nil {
		p.metrics.RecordProviderError(ctx, p.ttsName, "tts")
		return nil, fmt.Errorf("speech: list voices: %w", err)
	}
	return voices, nil
}

// Start begins a single-utterance recognition attempt.
func (p *Platform) Start(ctx context.Context, cfg session.RecognitionConfig, sink session.Sink) error {
	if p.stt == nil || p.source == nil {
		return session.ErrRecognitionUnsupported
	}
	p.mu.Lock()
	if p.recognizing {
		p.mu.Unlock()
		return session.ErrRecognitionActive
	}
	p.recognizing = true
	p.mu.Unlock()

	go func() {
		code, text := p.recognize(ctx, cfg, sink)
		switch {
		case code != "":
			sink(session.RecognitionError(code))
		case text != "":
			sink(session.Result(text))
		}
		p.mu.Lock()
		p.recognizing = false
		p.mu.Unlock()
		sink(session.Ended())
	}()
	return nil
}

// recognize runs one attempt and returns either an error code or the
// transcript.
func (p *Platform) recognize(ctx context.Context, cfg session.RecognitionConfig, sink session.Sink) (code, text string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "speech.recognize", observe.KeyProvider.String(p.sttName))
	defer func() { observe.EndSpan(span, code) }()
	log := observe.Logger(ctx).With("provider", p.sttName)

	first, err := p.source.ReadFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return platform.CodeAborted, ""
		}
		log.Warn("audio capture failed", "err", err)
		return platform.CodeAudioCapture, ""
	}

	f := p.source.Format()
	handle, err := p.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Language:   cfg.Language,
	})
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.sttName, "stt", "error")
		p.metrics.RecordProviderError(ctx, p.sttName, "stt")
		log.Warn("could not open recognition stream", "err", err)
		return platform.CodeNetwork, ""
	}
	defer handle.Close()
	go audio.Drain(handle.Partials())

	sink(session.Started())

	go p.pump(ctx, handle, first)

	for {
		select {
		case <-ctx.Done():
			return platform.CodeAborted, ""
		case t, ok := <-handle.Finals():
			if !ok {
				if err := stt.SessionErr(handle); err != nil {
					p.metrics.RecordProviderRequest(ctx, p.sttName, "stt", "error")
					p.metrics.RecordProviderError(ctx, p.sttName, "stt")
					log.Warn("recognition failed", "err", err)
					return platform.CodeNetwork, ""
				}
				p.metrics.RecordProviderRequest(ctx, p.sttName, "stt", "empty")
				return platform.CodeNoSpeech, ""
			}
			if s := strings.TrimSpace(t.Text); s != "" {
				p.metrics.RecordProviderRequest(ctx, p.sttName, "stt", "ok")
				return "", s
			}
		}
	}
}

// pump forwards frames until the source ends, which closes the stream so the
// provider flushes, or until ctx is cancelled.
func (p *Platform) pump(ctx context.Context, h stt.SessionHandle, first audio.Frame) {
	frame := first
	for {
		if err := h.SendAudio(frame.Data); err != nil {
			return
		}
		var err error
		frame, err = p.source.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				slog.Warn("audio source failed", "err", err)
			}
			if ctx.Err() == nil {
				_ = h.Close()
			}
			return
		}
	}
}

// Speak synthesises u and plays it. Any utterance still playing is stopped
// first; only the latest utterance reports UtteranceStarted.
func (p *Platform) Speak(ctx context.Context, u session.Utterance, sink session.Sink) error {
	if p.tts == nil || p.sink == nil {
		return ErrSynthesisUnavailable
	}
	sctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.stopSpeech != nil {
		p.stopSpeech()
	}
	p.current = u.ID
	p.stopSpeech = cancel
	p.mu.Unlock()

	go func() {
		defer cancel()
		if code := p.play(sctx, u, sink); code != "" {
			sink(session.UtteranceError(u.ID, code))
			return
		}
		sink(session.UtteranceEnded(u.ID))
	}()
	return nil
}

func (p *Platform) isCurrent(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current == id
}

// play streams one utterance into the sink and returns an error code on
// failure.
func (p *Platform) play(ctx context.Context, u session.Utterance, sink session.Sink) (code string) {
	ctx, span := observe.StartSpan(ctx, "speech.speak",
		observe.KeyProvider.String(p.ttsName),
		observe.KeyUtterance.Int64(int64(u.ID)),
	)
	defer func() { observe.EndSpan(span, code) }()

	var v tts.Voice
	if u.Voice != nil {
		v = *u.Voice
	}
	ch, err := p.tts.Synthesize(ctx, u.Text, v, tts.Prosody{Rate: u.Rate, Pitch: u.Pitch})
	if err != nil {
		if ctx.Err() != nil {
			return platform.CodeInterrupted
		}
		p.metrics.RecordProviderRequest(ctx, p.ttsName, "tts", "error")
		p.metrics.RecordProviderError(ctx, p.ttsName, "tts")
		observe.Logger(ctx).Warn("synthesis failed", "provider", p.ttsName, "err", err)
		return platform.CodeSynthesisFailed
	}
	defer audio.Drain(ch)

	rate := p.tts.SampleRate()
	started := false
	for chunk := range ch {
		if ctx.Err() != nil {
			return platform.CodeInterrupted
		}
		if !started {
			if !p.isCurrent(u.ID) {
				return platform.CodeInterrupted
			}
			started = true
			sink(session.UtteranceStarted(u.ID))
		}
		if u.Volume != 1 {
			chunk = audio.ApplyGain(chunk, u.Volume)
		}
		if err := p.sink.Play(ctx, audio.Frame{Data: chunk, SampleRate: rate, Channels: 1}); err != nil {
			if ctx.Err() != nil {
				return platform.CodeInterrupted
			}
			observe.Logger(ctx).Warn("audio playback failed", "err", err)
			return platform.CodeSynthesisFailed
		}
	}
	if ctx.Err() != nil {
		return platform.CodeInterrupted
	}
	if !started {
		p.metrics.RecordProviderRequest(ctx, p.ttsName, "tts", "empty")
		p.metrics.RecordProviderError(ctx, p.ttsName, "tts")
		return platform.CodeSynthesisFailed
	}
	p.metrics.RecordProviderRequest(ctx, p.ttsName, "tts", "ok")
	return ""
}

// Cancel stops the current utterance.
func (p *Platform) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopSpeech != nil {
		p.stopSpeech()
		p.stopSpeech = nil
	}
}

// Run reports capabilities, then triggers recognitions from the trigger
// reader (if any) until ctx is cancelled.
func (p *Platform) Run(ctx context.Context, ctl *session.Controller, board *conversation.Board) error {
	ctl.Sink()(session.CapabilitiesReported(p.Capabilities()))

	if p.transcript != nil {
		_, updates, unsubscribe := board.Subscribe(0)
		defer unsubscribe()
		go func() {
			for u := range updates {
				if u.Kind == conversation.UpdateLine {
					fmt.Fprintln(p.transcript, u.Line)
				}
			}
		}()
	}

	if p.trigger == nil {
		<-ctx.Done()
		return nil
	}

	lines := make(chan struct{})
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(p.trigger)
		for sc.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			ctl.Trigger()
		}
	}
}

var (
	_ session.Recognizer  = (*Platform)(nil)
	_ session.Synthesizer = (*Platform)(nil)
)
