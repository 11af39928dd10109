// Package session runs the speech session: it starts recognition on request,
// turns each transcript into a reply and speaks it, and mirrors every step on
// a [Display].
//
// All session state is owned by a single goroutine, [Controller.Run]. Trigger
// surfaces and platform adapters never touch it directly; they post [Event]
// values through a [Sink], and the loop applies them in order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxa/internal/intent"
	"github.com/MrWong99/voxa/internal/observe"
	"github.com/MrWong99/voxa/internal/platform"
	"github.com/MrWong99/voxa/internal/respond"
	"github.com/MrWong99/voxa/internal/transcript"
	"github.com/MrWong99/voxa/internal/voice"
	"github.com/MrWong99/voxa/pkg/provider/tts"
)

var (
	// ErrRecognitionActive is reported when a start is requested while a
	// recognition attempt is still running.
	ErrRecognitionActive = errors.New("session: recognition already active")

	// ErrRecognitionUnsupported is reported when a start is requested on a
	// platform without recognition.
	ErrRecognitionUnsupported = errors.New("session: speech recognition not supported")
)

// Status and log texts.
const (
	StatusStarting   = "Starting..."
	StatusListening  = "Listening..."
	StatusReady      = "Ready"
	StatusStartError = "Error starting recognition"
	SpeakErrorLine   = "Error: Could not speak the response"
)

const (
	defaultEventBuffer = 64
	voicePickTimeout   = 5 * time.Second

	// eventFlush is an internal barrier; see Flush.
	eventFlush EventKind = -1
)

// Option configures a [Controller].
type Option func(*Controller)

// WithRecognizer sets the recogniser. Without one, triggers are ignored.
func WithRecognizer(r Recognizer) Option {
	return func(c *Controller) { c.recognizer = r }
}

// WithSynthesizer sets the synthesiser. Without one, replies are text-only.
func WithSynthesizer(s Synthesizer) Option {
	return func(c *Controller) { c.synth = s }
}

// WithVoices sets the voice cache used to pick a voice per utterance.
func WithVoices(v *voice.Cache) Option {
	return func(c *Controller) { c.voices = v }
}

// WithMatcher replaces the default intent matcher.
func WithMatcher(m *intent.Matcher) Option {
	return func(c *Controller) { c.matcher = m }
}

// WithSelector replaces the default response selector.
func WithSelector(s *respond.Selector) Option {
	return func(c *Controller) { c.selector = s }
}

// WithCorrector sets the keyword corrector applied before intent matching
// while [Settings.CorrectKeywords] is on.
func WithCorrector(tc *transcript.Corrector) Option {
	return func(c *Controller) { c.corrector = tc }
}

// WithSettings sets the initial recognition and synthesis settings.
func WithSettings(s Settings) Option {
	return func(c *Controller) { c.settings = s.withDefaults() }
}

// WithMetrics records session metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEventBuffer sets the capacity of the event queue.
func WithEventBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.events = make(chan Event, n)
		}
	}
}

// Controller is the session state machine.
type Controller struct {
	display    Display
	recognizer Recognizer
	synth      Synthesizer
	voices     *voice.Cache
	matcher    *intent.Matcher
	selector   *respond.Selector
	corrector  *transcript.Corrector
	settings   Settings
	metrics    *observe.Metrics

	events  chan Event
	done    chan struct{}
	running atomic.Bool
	state   atomic.Int32
	ready   atomic.Bool

	// Owned by Run.
	canRecognize  bool
	canSynthesize bool
	recognizing   bool
	utterance     uint64
	lastID        uint64
	recStart      time.Time
	speakStart    time.Time
}

// New returns a controller writing to display. Capabilities default to what
// the options provide until an EventCapabilities says otherwise.
func New(display Display, opts ...Option) *Controller {
	c := &Controller{
		display:  display,
		matcher:  intent.NewMatcher(intent.DefaultRules()...),
		selector: respond.MustSelector(respond.DefaultCatalog()),
		settings: DefaultSettings(),
		events:   make(chan Event, defaultEventBuffer),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.canRecognize = c.recognizer != nil
	c.canSynthesize = c.synth != nil
	c.ready.Store(c.canRecognize)
	return c
}

// State returns the current state. Safe to call from any goroutine.
func (c *Controller) State() State { return State(c.state.Load()) }

// CanRecognize reports whether a trigger would start recognition, i.e. a
// recognizer is configured and the platform has not reported it missing.
// Safe to call from any goroutine.
func (c *Controller) CanRecognize() bool { return c.ready.Load() }

// Sink returns the function adapters use to post events.
func (c *Controller) Sink() Sink { return c.post }

// Trigger requests a new recognition attempt.
func (c *Controller) Trigger() { c.post(Event{Kind: EventTrigger}) }

// UpdateSettings replaces the synthesis and recognition settings.
func (c *Controller) UpdateSettings(s Settings) {
	c.post(Event{Kind: EventSettingsChanged, Settings: s})
}

// Flush blocks until every event posted before the call has been handled.
func (c *Controller) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case c.events <- Event{Kind: eventFlush, ack: ack}:
	case <-c.done:
		return errors.New("session: controller stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-c.done:
		return errors.New("session: controller stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) post(e Event) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}

// Run processes events until ctx is cancelled. It must be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session: controller already running")
	}
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			if c.utterance != 0 && c.synth != nil {
				c.synth.Cancel()
			}
			return nil
		case e := <-c.events:
			c.handle(ctx, e)
		}
	}
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		slog.Debug("session state", "from", prev, "to", s)
	}
}

func (c *Controller) handle(ctx context.Context, e Event) {
	switch e.Kind {
	case eventFlush:
		close(e.ack)
	case EventTrigger:
		c.handleTrigger(ctx)
	case EventRecognitionStarted:
		c.setState(Listening)
		c.display.SetStatus(StatusListening)
		c.display.SetListening(true)
		c.display.Append(StatusListening)
	case EventResult:
		c.handleResult(ctx, e.Transcript)
	case EventRecognitionError:
		c.setState(Errored)
		c.display.SetStatus("Error: " + e.Code)
		c.display.SetListening(false)
		c.display.Append("Error: " + e.Code)
		c.metrics.RecordRecognition(ctx, "error", 0)
		c.metrics.RecordSessionError(ctx, "recognition", e.Code)
		slog.Warn("recognition error", "code", e.Code)
	case EventStartFailed:
		c.recognizing = false
		c.startFailed(ctx, fmt.Errorf("session: start failed: %s", e.Code))
	case EventRecognitionEnded:
		c.recognizing = false
		c.setState(Idle)
		c.display.SetStatus(StatusReady)
		c.display.SetListening(false)
	case EventUtteranceStarted:
		if c.stale(e.UtteranceID) {
			return
		}
		c.metrics.RecordUtterance(ctx, "started", 0)
	case EventUtteranceEnded:
		if c.stale(e.UtteranceID) {
			return
		}
		c.utterance = 0
		c.metrics.RecordUtterance(ctx, "ended", time.Since(c.speakStart))
		if c.State() == Speaking {
			c.setState(Idle)
		}
	case EventUtteranceError:
		if c.stale(e.UtteranceID) {
			return
		}
		c.utterance = 0
		c.speakFailed(ctx, e.Code)
	case EventVoicesChanged:
		if c.voices != nil {
			if err := c.voices.Refresh(ctx); err != nil {
				slog.Warn("voice refresh failed", "err", err)
			}
		}
	case EventCapabilities:
		c.applyCapabilities(e.Capabilities)
	case EventSettingsChanged:
		c.settings = e.Settings.withDefaults()
		if c.voices != nil {
			c.voices.SetPreferred(c.settings.PreferredVoice)
		}
		slog.Info("session settings updated",
			"language", c.settings.Language,
			"volume", c.settings.Volume,
			"rate", c.settings.Rate,
			"pitch", c.settings.Pitch,
			"correct_keywords", c.settings.CorrectKeywords,
		)
	default:
		slog.Warn("unknown session event", "kind", int(e.Kind))
	}
}

// stale reports whether id belongs to an utterance that has been replaced.
func (c *Controller) stale(id uint64) bool {
	if id == 0 || id != c.utterance {
		slog.Debug("ignoring stale utterance event", "id", id, "current", c.utterance)
		return true
	}
	return false
}

func (c *Controller) handleTrigger(ctx context.Context) {
	if !c.canRecognize {
		slog.Warn("trigger ignored", "err", ErrRecognitionUnsupported)
		return
	}
	if c.display.Empty() {
		c.display.Append(StatusStarting)
	}
	c.display.SetStatus(StatusStarting)

	if c.recognizing || c.State() == Listening {
		c.startFailed(ctx, ErrRecognitionActive)
		return
	}
	cfg := RecognitionConfig{Language: c.settings.Language}
	if err := c.recognizer.Start(ctx, cfg, c.post); err != nil {
		c.startFailed(ctx, err)
		return
	}
	c.recognizing = true
	c.recStart = time.Now()
}

func (c *Controller) startFailed(ctx context.Context, err error) {
	if !c.recognizing {
		c.setState(Errored)
	}
	c.display.SetStatus(StatusStartError)
	c.display.Append(StatusStartError)
	c.metrics.RecordRecognition(ctx, "start_failed", 0)
	c.metrics.RecordSessionError(ctx, "start", errorCode(err))
	slog.Warn("could not start recognition", "err", err)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRecognitionActive):
		return "already-active"
	case errors.Is(err, ErrRecognitionUnsupported):
		return "unsupported"
	default:
		return "start-failed"
	}
}

func (c *Controller) handleResult(ctx context.Context, transcript string) {
	c.setState(Processing)
	ctx, span := observe.StartSpan(ctx, "session.result")
	defer span.End()

	text := strings.ToLower(transcript)
	c.display.Append("You: " + text)

	category := c.matcher.Match(c.correct(ctx, text))
	reply := c.selector.Select(category)
	c.display.Append("Assistant: " + reply)

	span.SetAttributes(observe.KeyIntent.String(category.String()))
	if !c.recStart.IsZero() {
		c.metrics.RecordRecognition(ctx, "result", time.Since(c.recStart))
		c.recStart = time.Time{}
	}
	c.metrics.RecordIntent(ctx, category.String())
	observe.Logger(ctx).Info("command processed", "intent", category, "transcript", text)

	c.speak(ctx, reply)
}

// correct returns text with misheard keywords repaired, or text itself when
// correction is off.
func (c *Controller) correct(ctx context.Context, text string) string {
	if c.corrector == nil || !c.settings.CorrectKeywords {
		return text
	}
	r := c.corrector.Correct(text)
	for _, fix := range r.Corrections {
		observe.Logger(ctx).Debug("keyword corrected",
			"heard", fix.Original, "as", fix.Corrected, "confidence", fix.Confidence)
	}
	if len(r.Corrections) == 0 {
		return text
	}
	return r.Text
}

// speak cancels any utterance still playing and submits reply as a new one.
func (c *Controller) speak(ctx context.Context, reply string) {
	if c.synth == nil || !c.canSynthesize {
		c.setState(Idle)
		return
	}
	if c.utterance != 0 {
		c.synth.Cancel()
		c.metrics.RecordUtterance(ctx, "cancelled", 0)
		c.utterance = 0
	}

	c.lastID++
	u := Utterance{
		ID:     c.lastID,
		Text:   reply,
		Voice:  c.pickVoice(ctx),
		Volume: c.settings.Volume,
		Rate:   c.settings.Rate,
		Pitch:  c.settings.Pitch,
	}
	c.utterance = u.ID
	c.speakStart = time.Now()
	if err := c.synth.Speak(ctx, u, c.post); err != nil {
		c.utterance = 0
		slog.Warn("could not submit utterance", "id", u.ID, "err", err)
		c.speakFailed(ctx, platform.CodeSynthesisFailed)
		return
	}
	c.setState(Speaking)
}

func (c *Controller) pickVoice(ctx context.Context) *tts.Voice {
	if c.voices == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, voicePickTimeout)
	defer cancel()
	return c.voices.Pick(ctx)
}

func (c *Controller) speakFailed(ctx context.Context, code string) {
	c.display.Append(SpeakErrorLine)
	c.metrics.RecordUtterance(ctx, "error", 0)
	c.metrics.RecordSessionError(ctx, "synthesis", code)
	slog.Warn("speech synthesis error", "code", code)
	if s := c.State(); s == Speaking || s == Processing {
		c.setState(Idle)
	}
}

func (c *Controller) applyCapabilities(caps platform.Capabilities) {
	c.canRecognize = caps.Recognition && c.recognizer != nil
	c.canSynthesize = caps.Synthesis && c.synth != nil
	c.ready.Store(c.canRecognize)
	c.display.SetEnabled(c.canRecognize)

	status := StatusReady
	if !c.canRecognize {
		c.display.Append(platform.RecognitionUnsupportedLog)
		status = platform.RecognitionUnsupportedStatus
	}
	if !c.canSynthesize {
		c.display.Append(platform.SynthesisUnsupportedLog)
		status = platform.SynthesisUnsupportedStatus
	}
	c.display.SetStatus(status)
	slog.Info("platform capabilities", "recognition", c.canRecognize, "synthesis", c.canSynthesize)
}
