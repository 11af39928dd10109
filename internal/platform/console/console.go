// Package console runs the assistant in a terminal. Every typed line is a
// trigger plus the transcript that recognition returns, and the conversation
// log is printed as it grows.
//
// Input is processed one line at a time: the next line is not read until the
// previous one has been recognised and answered, so piped input such as
//
//	printf 'hello\nwhat time is it\n' | voxa -platform console
//
// yields one exchange per line.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/voxa/internal/conversation"
	"github.com/MrWong99/voxa/internal/platform"
	"github.com/MrWong99/voxa/internal/session"
	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// Voice is the single voice the console offers.
var Voice = tts.Voice{ID: "console", Name: "Console", Language: "en-US", Provider: "console"}

// Option configures a [Platform].
type Option func(*Platform)

// WithSpeechWriter writes every spoken reply as a line to w, for example a
// pipe into a command-line synthesiser.
func WithSpeechWriter(w io.Writer) Option {
	return func(p *Platform) { p.speech = w }
}

// WithStatus prints status changes in brackets alongside the log.
func WithStatus(on bool) Option {
	return func(p *Platform) { p.showStatus = on }
}

// Platform is the terminal platform. It implements [session.Recognizer] and
// [session.Synthesizer].
type Platform struct {
	in         io.Reader
	out        io.Writer
	speech     io.Writer
	showStatus bool

	mu      sync.Mutex
	active  bool
	pending *request      // typed line not yet claimed by a recognition
	waiting chan *request // recognition waiting for the next typed line
}

// request is one typed line travelling to a recognition attempt.
type request struct {
	line string
	done chan struct{}
}

// New returns a console platform reading from in and printing to out.
func New(in io.Reader, out io.Writer, opts ...Option) *Platform {
	p := &Platform{in: in, out: out}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities reports full support: typing stands in for recognition and
// printing for synthesis.
func (p *Platform) Capabilities() platform.Capabilities { return platform.Full }

// ListVoices returns the console voice.
func (p *Platform) ListVoices(context.Context) ([]tts.Voice, error) {
	return []tts.Voice{Voice}, nil
}

// Start claims the pending typed line, or waits for the next one.
func (p *Platform) Start(ctx context.Context, _ session.RecognitionConfig, sink session.Sink) error {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return session.ErrRecognitionActive
	}
	p.active = true
	req := p.pending
	p.pending = nil
	var wait chan *request
	if req == nil {
		wait = make(chan *request, 1)
		p.waiting = wait
	}
	p.mu.Unlock()

	go func() {
		sink(session.Started())
		if req == nil {
			select {
			case req = <-wait:
			case <-ctx.Done():
				p.mu.Lock()
				p.waiting = nil
				p.active = false
				p.mu.Unlock()
				sink(session.RecognitionError(platform.CodeAborted))
				sink(session.Ended())
				return
			}
		}
		if text := strings.TrimSpace(req.line); text == "" {
			sink(session.RecognitionError(platform.CodeNoSpeech))
		} else {
			sink(session.Result(text))
		}
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
		sink(session.Ended())
		close(req.done)
	}()
	return nil
}

// Speak writes the reply to the speech writer, if any.
func (p *Platform) Speak(_ context.Context, u session.Utterance, sink session.Sink) error {
	go func() {
		sink(session.UtteranceStarted(u.ID))
		if p.speech != nil {
			if _, err := fmt.Fprintln(p.speech, u.Text); err != nil {
				sink(session.UtteranceError(u.ID, platform.CodeSynthesisFailed))
				return
			}
		}
		sink(session.UtteranceEnded(u.ID))
	}()
	return nil
}

// Cancel is a no-op: console utterances complete immediately.
func (p *Platform) Cancel() {}

// Run reports capabilities, prints the board and feeds typed lines to ctl
// until ctx is cancelled or input ends. At end of input it waits for the
// last exchange to be logged before returning nil.
func (p *Platform) Run(ctx context.Context, ctl *session.Controller, board *conversation.Board) error {
	ctl.Sink()(session.CapabilitiesReported(p.Capabilities()))

	_, updates, unsubscribe := board.Subscribe(0)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		p.render(updates)
	}()
	defer func() {
		unsubscribe()
		<-printed
	}()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(p.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("console: read input: %w", err)
			}
			return ctl.Flush(ctx)
		case line := <-lines:
			if err := p.submit(ctx, ctl, line); err != nil {
				return nil
			}
		}
	}
}

// submit hands line to a waiting recognition or triggers a new one, then
// blocks until that recognition has finished with it.
func (p *Platform) submit(ctx context.Context, ctl *session.Controller, line string) error {
	req := &request{line: line, done: make(chan struct{})}

	p.mu.Lock()
	if p.waiting != nil {
		p.waiting <- req
		p.waiting = nil
		p.mu.Unlock()
	} else {
		p.pending = req
		p.mu.Unlock()

		ctl.Trigger()
		if err := ctl.Flush(ctx); err != nil {
			return err
		}
		p.mu.Lock()
		unclaimed := p.pending == req
		if unclaimed {
			p.pending = nil
		}
		p.mu.Unlock()
		if unclaimed {
			slog.Warn("console input ignored, recognition not started", "line", line)
			return nil
		}
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return ctl.Flush(ctx)
}

func (p *Platform) render(updates <-chan conversation.Update) {
	for u := range updates {
		var err error
		switch u.Kind {
		case conversation.UpdateLine:
			_, err = fmt.Fprintln(p.out, u.Line)
		case conversation.UpdateStatus:
			if p.showStatus {
				_, err = fmt.Fprintf(p.out, "[%s]\n", u.Status)
			}
		}
		if err != nil {
			slog.Warn("console output failed", "err", err)
		}
	}
}

var (
	_ session.Recognizer  = (*Platform)(nil)
	_ session.Synthesizer = (*Platform)(nil)
)
