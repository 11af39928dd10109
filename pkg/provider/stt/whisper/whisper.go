// Package whisper provides an STT provider backed by a whisper.cpp server.
//
// whisper.cpp is a batch engine: it exposes POST /inference and transcribes a
// whole WAV file at a time. The provider buffers incoming PCM, cuts it into
// utterances with an energy gate, and submits each utterance as one request.
// Every committed utterance is emitted as a partial and then a final carrying
// the same text.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithSilenceThresholdMs(700))
//	handle, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
//	handle.SendAudio(pcm)
//	t := <-handle.Finals()
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxa/pkg/audio"
	"github.com/MrWong99/voxa/pkg/provider/stt"
)

const (
	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
	flushTimeout               = 30 * time.Second
)

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.ErrorReporter = (*session)(nil)
)

// errClosed is returned by SendAudio after Close.
var errClosed = errors.New("whisper: session is closed")

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. Empty (the default)
// uses whatever model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the fallback recognition language used when a stream does
// not specify one. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the fallback sample rate for streams that do not
// specify one. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets how much trailing silence ends an utterance.
// Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs caps the length of one utterance. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// WithHTTPClient overrides the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements [stt.Provider] against a whisper.cpp HTTP server.
// Sessions are independent; each owns its buffer and goroutine.
type Provider struct {
	serverURL           string
	model               string
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client
}

// New returns a Provider for the server at serverURL, which must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:           strings.TrimRight(serverURL, "/"),
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: flushTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a session. No request is made until the first utterance
// completes, so the only failure is an already-cancelled ctx.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = p.sampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	lang := baseLanguage(cfg.Language)
	if lang == "" {
		lang = p.language
	}

	s := &session{
		p:        p,
		language: lang,
		format:   format,
		seg:      newSegmenter(format, p.silenceThresholdMs, p.maxBufferDurationMs),
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

// baseLanguage reduces a BCP-47 tag such as "en-US" to the primary subtag
// whisper.cpp understands.
func baseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

type session struct {
	p        *Provider
	language string
	format   audio.Format
	seg      *segmenter // owned by run

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// Err returns the first inference failure of the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// run owns the segmenter. On shutdown it submits whatever speech is still
// buffered using a detached context, since ctx may already be done. After
// Close, audio already queued by SendAudio is segmented first.
func (s *session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		select {
		case <-ctx.Done():
			s.flushDetached(false)
			return
		case <-s.done:
			s.flushDetached(true)
			return
		case chunk := <-s.audioCh:
			if pcm, ok := s.seg.push(chunk); ok {
				s.emit(ctx, pcm)
			}
		}
	}
}

func (s *session) flushDetached(drain bool) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for drain {
		select {
		case chunk := <-s.audioCh:
			if pcm, ok := s.seg.push(chunk); ok {
				s.emit(ctx, pcm)
			}
		default:
			drain = false
		}
	}
	if pcm, ok := s.seg.flush(); ok {
		s.emit(ctx, pcm)
	}
}

// emit transcribes pcm and publishes the result. Sends never block; a full
// channel means nobody is listening any more.
func (s *session) emit(ctx context.Context, pcm []byte) {
	text, err := s.infer(ctx, pcm)
	if err != nil {
		slog.Warn("whisper: inference failed", "err", err)
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
		return
	}
	if text == "" {
		return
	}
	select {
	case s.partials <- stt.Transcript{Text: text}:
	default:
	}
	select {
	case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
	default:
	}
}

type inferenceResponse struct {
	Text string `json:"text"`
}

// infer posts pcm as a WAV upload to /inference and returns the trimmed text.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, s.format)); err != nil {
		return "", fmt.Errorf("whisper: write wav: %w", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"language":        s.language,
		"model":           s.p.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
