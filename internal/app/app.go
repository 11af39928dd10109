// Package app wires the Voxa subsystems into a running application.
//
// The App owns the full lifecycle: New builds the platform, the conversation
// board and the session controller from the config, Run executes them
// together with the HTTP server and the config watcher, and Close releases
// the audio files the speech platform opened.
//
// For testing, inject doubles via functional options (WithPlatform,
// WithStdio, WithListener). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxa/internal/config"
	"github.com/MrWong99/voxa/internal/conversation"
	"github.com/MrWong99/voxa/internal/health"
	"github.com/MrWong99/voxa/internal/intent"
	"github.com/MrWong99/voxa/internal/observe"
	"github.com/MrWong99/voxa/internal/platform/browser"
	"github.com/MrWong99/voxa/internal/platform/console"
	"github.com/MrWong99/voxa/internal/platform/speech"
	"github.com/MrWong99/voxa/internal/session"
	"github.com/MrWong99/voxa/internal/transcript"
	"github.com/MrWong99/voxa/internal/voice"
	"github.com/MrWong99/voxa/pkg/audio"
	"github.com/MrWong99/voxa/pkg/provider/stt"
	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Platform is where recognition and synthesis happen. It serves as the
// controller's recognizer and synthesizer and as the source of its voices.
type Platform interface {
	session.Recognizer
	session.Synthesizer
	voice.Source

	// Run binds the platform to the controller and board and blocks until
	// ctx is cancelled or the platform has no more input.
	Run(ctx context.Context, ctl *session.Controller, board *conversation.Board) error
}

// Providers holds the speech providers of the speech platform. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT     stt.Provider
	STTName string
	TTS     tts.Provider
	TTSName string
}

// availability is implemented by providers that can report whether they
// currently accept requests, such as failover groups.
type availability interface {
	Available() bool
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	platform Platform
	hub      *browser.Hub
	board    *conversation.Board
	ctl      *session.Controller
	metrics  *observe.Metrics
	level    *slog.LevelVar
	watcher  *config.Watcher
	listener net.Listener

	stdin          io.Reader
	stdout, stderr io.Writer

	closers   []func() error
	closeOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithPlatform injects a platform instead of building one from config.
func WithPlatform(p Platform) Option {
	return func(a *App) { a.platform = p }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel sets the level variable that config reloads update.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithWatcher runs w alongside the app. Its callback should call
// [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithListener serves HTTP on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithStdio replaces the process's standard streams.
func WithStdio(in io.Reader, out, errOut io.Writer) Option {
	return func(a *App) {
		a.stdin = in
		a.stdout = out
		a.stderr = errOut
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. providers may be nil unless the platform is
// "speech".
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
	for _, o := range opts {
		o(a)
	}
	if a.providers == nil {
		a.providers = &Providers{}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.platform == nil {
		if err := a.initPlatform(); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s platform: %w", cfg.Platform, err)
		}
	}

	a.board = conversation.NewBoard(session.StatusReady)
	a.ctl = session.New(a.board,
		session.WithRecognizer(a.platform),
		session.WithSynthesizer(a.platform),
		session.WithVoices(voice.NewCache(a.platform, cfg.Assistant.PreferredVoiceLocale)),
		session.WithCorrector(transcript.New(intent.Keywords())),
		session.WithSettings(settingsFrom(cfg.Assistant)),
		session.WithMetrics(a.metrics),
	)
	return a, nil
}

// initPlatform builds the platform selected by the config.
func (a *App) initPlatform() error {
	switch a.cfg.Platform {
	case config.PlatformConsole, "":
		a.platform = console.New(a.stdin, a.stdout)

	case config.PlatformBrowser:
		a.hub = browser.New(
			browser.WithMetrics(a.metrics),
			browser.WithOriginPatterns(a.cfg.Browser.OriginPatterns...),
		)
		a.platform = a.hub

	case config.PlatformSpeech:
		return a.initSpeech()

	default:
		return fmt.Errorf("unknown platform %q", a.cfg.Platform)
	}
	return nil
}

// initSpeech opens the audio streams and builds the speech platform.
func (a *App) initSpeech() error {
	if a.providers.STT == nil {
		return errors.New("speech platform requires an STT provider")
	}
	ac := a.cfg.Audio
	format := audio.Format{SampleRate: ac.SampleRate, Channels: 1}

	in := a.stdin
	if ac.Input != config.StdioPath {
		f, err := os.Open(ac.Input)
		if err != nil {
			return fmt.Errorf("open audio input: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		in = f
	}
	opts := []speech.Option{
		speech.WithRecognition(a.providers.STT, audio.NewReaderSource(in, format, ac.FrameMs), a.providers.STTName),
		speech.WithMetrics(a.metrics),
	}

	// Enter on the terminal starts listening, unless the terminal is the
	// audio input.
	if ac.Input != config.StdioPath {
		opts = append(opts, speech.WithTrigger(a.stdin))
	}

	transcript := a.stdout
	if a.providers.TTS != nil {
		out := a.stdout
		if ac.Output != config.StdioPath {
			f, err := os.OpenFile(ac.Output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("open audio output: %w", err)
			}
			a.closers = append(a.closers, f.Close)
			out = f
		} else {
			transcript = a.stderr
		}
		opts = append(opts, speech.WithSynthesis(a.providers.TTS, audio.NewWriterSink(out, format), a.providers.TTSName))
	}
	opts = append(opts, speech.WithTranscript(transcript))

	a.platform = speech.New(opts...)
	return nil
}

// settingsFrom maps the assistant config onto session settings.
func settingsFrom(c config.AssistantConfig) session.Settings {
	return session.Settings{
		Language:        c.Language,
		PreferredVoice:  c.PreferredVoiceLocale,
		Volume:          c.Volume,
		Rate:            c.Rate,
		Pitch:           c.Pitch,
		CorrectKeywords: c.CorrectKeywords,
	}
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.ctl }

// Board returns the conversation board.
func (a *App) Board() *conversation.Board { return a.board }

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the HTTP surface: health probes, metrics, the conversation
// API and, on the browser platform, the page and its websocket.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.readinessChecks()...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.HandleFunc("GET /api/conversation", a.handleConversation)
	mux.HandleFunc("POST /api/trigger", a.handleTrigger)
	if a.hub != nil {
		mux.Handle("GET /ws", a.hub)
		mux.Handle("GET /", browser.PageHandler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// readinessChecks reports recognition capability, the browser page, and
// the health of failover providers. Without synthesis replies are still
// shown, so tts only degrades readiness.
func (a *App) readinessChecks() []health.Checker {
	checks := []health.Checker{health.Capability("recognition", a.ctl.CanRecognize)}
	if a.hub != nil {
		checks = append(checks, health.Capability("page", a.hub.Connected))
	}
	if p, ok := a.providers.STT.(availability); ok {
		checks = append(checks, health.Capability("stt", p.Available))
	}
	if p, ok := a.providers.TTS.(availability); ok {
		checks = append(checks, health.Advisory(health.Capability("tts", p.Available)))
	}
	return checks
}

func (a *App) handleConversation(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(a.board.Snapshot()); err != nil {
		slog.Warn("encode conversation", "err", err)
	}
}

func (a *App) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	a.ctl.Trigger()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, `{"status":"triggered"}`+"\n")
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run runs the controller, the platform, the HTTP server (when configured)
// and the config watcher (when set) until ctx is cancelled or the platform
// returns. It returns the first error any of them reports.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.ctl.Run(gctx) })
	g.Go(func() error {
		// A platform that runs out of input ends the app.
		defer cancel()
		if err := a.platform.Run(gctx, a.ctl, a.board); err != nil {
			return fmt.Errorf("app: platform: %w", err)
		}
		return nil
	})

	if a.listener != nil || a.cfg.Server.ListenAddr != "" {
		ln := a.listener
		if ln == nil {
			var err error
			ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
			if err != nil {
				cancel()
				_ = g.Wait()
				return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
			}
		}
		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error { return a.serve(srv, ln) })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("voxa running", "platform", a.cfg.Platform, "listen_addr", a.addr())
	return g.Wait()
}

func (a *App) serve(srv *http.Server, ln net.Listener) error {
	var err error
	if tls := a.cfg.Server.TLS; tls != nil {
		slog.Info("serving HTTPS", "addr", ln.Addr().String())
		err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
	} else {
		slog.Info("serving HTTP", "addr", ln.Addr().String())
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: http server: %w", err)
}

func (a *App) addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.cfg.Server.ListenAddr
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a config change: the log level
// and the assistant settings. Other changes are logged as needing a restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AssistantChanged {
		a.ctl.UpdateSettings(settingsFrom(new.Assistant))
		slog.Info("assistant settings reloaded",
			"language", new.Assistant.Language,
			"voice", new.Assistant.PreferredVoiceLocale,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "keys", d.RestartRequired)
	}
}

// SlogLevel maps a config log level onto slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Close ───────────────────────────────────────────────────────────────────

// Close releases resources opened by New. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
