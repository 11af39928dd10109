// Package browser runs the assistant with the browser's Web Speech API doing
// the recognition and synthesis.
//
// The server keeps the session controller. An embedded page connects back
// over a websocket and acts as the controller's recogniser and synthesiser:
// the [Hub] forwards start, speak and cancel requests to the page and turns
// the page's callbacks into session events. The page also renders the
// conversation board, which it receives as a snapshot on connect followed by
// incremental updates.
//
// Only one page is served at a time. A newly connected page replaces the
// previous one, and any recognition or utterance the old page had in flight
// is reported as failed.
package browser

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxa/internal/conversation"
	"github.com/MrWong99/voxa/internal/observe"
	"github.com/MrWong99/voxa/internal/platform"
	"github.com/MrWong99/voxa/internal/session"
	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// ErrNoClient is returned when a request needs a page and none is connected.
var ErrNoClient = errors.New("browser: no page connected")

//go:embed static
var static embed.FS

const (
	sendBuffer   = 256
	writeTimeout = 5 * time.Second
	providerName = "browser"
)

// Option configures a [Hub].
type Option func(*Hub)

// WithMetrics records connected clients to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns allows cross-origin websocket connections from hosts
// matching the given patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// Hub bridges one connected page to the session controller. It is the
// controller's recogniser and synthesiser, and the voice source of its voice
// cache.
type Hub struct {
	metrics *observe.Metrics
	origins []string
	ready   chan struct{}

	mu          sync.Mutex
	sink        session.Sink
	trigger     func()
	board       *conversation.Board
	client      *client
	voices      []tts.Voice
	recognizing bool
	utterance   uint64
}

type client struct {
	conn *websocket.Conn
	send chan message
}

// New returns a hub. It accepts connections once [Hub.Run] has started.
func New(opts ...Option) *Hub {
	h := &Hub{ready: make(chan struct{})}
	for _, o := range opts {
		o(h)
	}
	return h
}

// PageHandler serves the embedded page.
func PageHandler() http.Handler {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic("browser: embedded page missing: " + err.Error())
	}
	return http.FileServerFS(sub)
}

// Connected reports whether a page is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client != nil
}

// Run binds the hub to ctl and board and serves until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, ctl *session.Controller, board *conversation.Board) error {
	h.mu.Lock()
	h.sink = ctl.Sink()
	h.trigger = ctl.Trigger
	h.board = board
	h.mu.Unlock()
	close(h.ready)

	<-ctx.Done()

	h.mu.Lock()
	c := h.client
	h.mu.Unlock()
	if c != nil {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}

// Start asks the page to begin a recognition attempt.
func (h *Hub) Start(_ context.Context, cfg session.RecognitionConfig, _ session.Sink) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.recognizing {
		return session.ErrRecognitionActive
	}
	if err := h.sendLocked(message{Type: msgStart, Lang: cfg.Language}); err != nil {
		return err
	}
	h.recognizing = true
	return nil
}

// Speak asks the page to speak u. The page cancels whatever it is saying
// first.
func (h *Hub) Speak(_ context.Context, u session.Utterance, _ session.Sink) error {
	m := message{
		Type:   msgSpeak,
		ID:     u.ID,
		Text:   u.Text,
		Volume: u.Volume,
		Rate:   u.Rate,
		Pitch:  u.Pitch,
	}
	if u.Voice != nil {
		m.Voice = u.Voice.ID
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.sendLocked(m); err != nil {
		return err
	}
	h.utterance = u.ID
	return nil
}

// Cancel asks the page to stop speaking.
func (h *Hub) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == nil {
		return
	}
	h.utterance = 0
	if err := h.sendLocked(message{Type: msgCancel}); err != nil {
		slog.Debug("cancel not delivered", "err", err)
	}
}

// ListVoices returns the voices last reported by the page.
func (h *Hub) ListVoices(context.Context) ([]tts.Voice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.voices), nil
}

// sendLocked queues m for the current page. h.mu must be held.
func (h *Hub) sendLocked(m message) error {
	if h.client == nil {
		return ErrNoClient
	}
	select {
	case h.client.send <- m:
		return nil
	default:
		return fmt.Errorf("browser: send %s: client queue full", m.Type)
	}
}

// ServeHTTP upgrades the request to the page's websocket.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.ready:
	case <-r.Context().Done():
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ctx := r.Context()
	c := &client{conn: conn, send: make(chan message, sendBuffer)}

	snap, unsubscribe := h.attach(c)
	defer unsubscribe()
	h.metrics.RecordActiveClients(ctx, 1)
	defer h.metrics.RecordActiveClients(context.WithoutCancel(ctx), -1)
	slog.Info("browser connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.writeLoop(ctx, c, snap)

	err = h.readLoop(ctx, c)
	h.detach(c)
	conn.CloseNow()
	if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
		err = nil
	}
	slog.Info("browser disconnected", "remote", r.RemoteAddr, "err", err)
}

// attach makes c the current page, abandoning any previous one. Board
// updates are queued on c.send as they happen, so the page receives them in
// the same order as the hub's own requests.
func (h *Hub) attach(c *client) (conversation.Snapshot, func()) {
	h.mu.Lock()
	old := h.client
	var events []session.Event
	if old != nil {
		events = h.abandonLocked()
	}
	h.client = c
	board, sink := h.board, h.sink
	h.mu.Unlock()

	if old != nil {
		go old.conn.Close(websocket.StatusPolicyViolation, "replaced by a newer page")
	}
	for _, e := range events {
		sink(e)
	}
	return board.SubscribeFunc(func(u conversation.Update) {
		select {
		case c.send <- updateMessage(u):
		default:
			slog.Warn("browser queue full, dropping board update", "kind", int(u.Kind))
		}
	})
}

// detach clears c if it is still the current page.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if h.client != c {
		h.mu.Unlock()
		return
	}
	events := h.abandonLocked()
	h.client = nil
	sink := h.sink
	h.mu.Unlock()

	for _, e := range events {
		sink(e)
	}
}

// abandonLocked returns the events that close out whatever the current page
// had in flight. h.mu must be held.
func (h *Hub) abandonLocked() []session.Event {
	var events []session.Event
	if h.recognizing {
		events = append(events, session.RecognitionError(platform.CodeNetwork), session.Ended())
		h.recognizing = false
	}
	if h.utterance != 0 {
		events = append(events, session.UtteranceError(h.utterance, platform.CodeInterrupted))
		h.utterance = 0
	}
	return events
}

func (h *Hub) writeLoop(ctx context.Context, c *client, snap conversation.Snapshot) {
	if err := h.write(ctx, c, message{Type: msgBoard, Board: &snap}); err != nil {
		return
	}
	for {
		var m message
		select {
		case <-ctx.Done():
			return
		case m = <-c.send:
		}
		if err := h.write(ctx, c, m); err != nil {
			slog.Debug("browser write failed", "type", m.Type, "err", err)
			c.conn.CloseNow()
			return
		}
	}
}

func (h *Hub) write(ctx context.Context, c *client, m message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("browser: marshal %s: %w", m.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) readLoop(ctx context.Context, c *client) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("malformed browser message", "err", err)
			continue
		}
		h.handle(c, m)
	}
}

// handle turns one page message into session events. Messages from a page
// that has since been replaced are dropped.
func (h *Hub) handle(c *client, m message) {
	h.mu.Lock()
	if h.client != c {
		h.mu.Unlock()
		return
	}
	var events []session.Event
	trigger := false
	switch m.Type {
	case msgTrigger:
		trigger = true
	case msgCapabilities:
		if m.Capabilities != nil {
			events = append(events, session.CapabilitiesReported(*m.Capabilities))
		}
	case msgVoices:
		h.voices = make([]tts.Voice, 0, len(m.Voices))
		for _, v := range m.Voices {
			if v.Provider == "" {
				v.Provider = providerName
			}
			h.voices = append(h.voices, v)
		}
		events = append(events, session.VoicesChanged())
	case msgStarted:
		events = append(events, session.Started())
	case msgStartFailed:
		h.recognizing = false
		events = append(events, session.StartFailed(m.Error))
	case msgResult:
		events = append(events, session.Result(m.Transcript))
	case msgError:
		events = append(events, session.RecognitionError(m.Error))
	case msgEnd:
		h.recognizing = false
		events = append(events, session.Ended())
	case msgUtteranceStart:
		events = append(events, session.UtteranceStarted(m.ID))
	case msgUtteranceEnd:
		if h.utterance == m.ID {
			h.utterance = 0
		}
		events = append(events, session.UtteranceEnded(m.ID))
	case msgUtteranceError:
		if h.utterance == m.ID {
			h.utterance = 0
		}
		events = append(events, session.UtteranceError(m.ID, m.Error))
	default:
		slog.Warn("unknown browser message", "type", m.Type)
	}
	sink, triggerFn := h.sink, h.trigger
	h.mu.Unlock()

	if trigger {
		triggerFn()
	}
	for _, e := range events {
		sink(e)
	}
}

var (
	_ session.Recognizer  = (*Hub)(nil)
	_ session.Synthesizer = (*Hub)(nil)
	_ http.Handler        = (*Hub)(nil)
)
