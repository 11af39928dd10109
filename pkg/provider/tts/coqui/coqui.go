// Package coqui provides a TTS provider backed by a local Coqui TTS server.
//
// Two server flavours are supported:
//
//   - APIModeStandard (default): the stock Coqui TTS server. Synthesis is a
//     GET /api/tts with query parameters; voices come from GET /details.
//
//   - APIModeXTTS: the XTTS v2 API server. Synthesis is a POST /tts_to_audio/
//     with a JSON body; voices come from GET /studio_speakers.
//
// Both servers return one WAV file per request. Synthesize splits an
// utterance into sentences and keeps a few requests in flight so the first
// sentence can play while later ones are still rendering. PCM is always
// emitted at [Provider.SampleRate].
//
//	p, _ := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	pcm, err := p.Synthesize(ctx, "Hello there!", tts.Voice{}, tts.Prosody{})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxa/pkg/audio"
	"github.com/MrWong99/voxa/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	providerName      = "coqui"
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 22050

	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
	xttsEndpoint           = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"

	// lookahead is the number of sentence requests allowed in flight.
	lookahead = 3

	pcmChunkSize = 4096
)

// APIMode selects the server API.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language sent when a voice carries none.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server flavour. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate sets the rate PCM is resampled to. Defaults to 22050.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.outputRate = rate
		}
	}
}

// Provider implements [tts.Provider] for Coqui servers. Safe for concurrent
// use.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	outputRate int
	httpClient *http.Client
}

// New returns a Provider for the server at serverURL, which must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		outputRate: defaultOutputRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// SampleRate returns the rate of the PCM emitted by Synthesize.
func (p *Provider) SampleRate() int { return p.outputRate }

// Synthesize renders text sentence by sentence. The returned channel closes
// when every sentence has been emitted, a request fails, or ctx is done.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice, prosody tts.Prosody) (<-chan []byte, error) {
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: XTTS mode requires a voice")
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, errors.New("coqui: nothing to synthesise")
	}
	prosody = prosody.Neutral()

	out := make(chan []byte, 64)
	results := make([]chan []byte, len(sentences))
	for i := range results {
		results[i] = make(chan []byte, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookahead)
	go func() {
		for i, s := range sentences {
			g.Go(func() error {
				defer close(results[i])
				pcm, err := p.synthesize(gctx, s, voice, prosody)
				if err != nil {
					slog.Warn("coqui: sentence synthesis failed", "err", err)
					return err
				}
				results[i] <- pcm
				return nil
			})
		}
		_ = g.Wait()
	}()

	// A failed sentence closes its channel without a value. Later sentences
	// are cancelled through gctx and close theirs too, so the loop never
	// waits on a sentence that will not arrive.
	go func() {
		defer close(out)
		for _, ch := range results {
			var pcm []byte
			var ok bool
			select {
			case pcm, ok = <-ch:
			case <-ctx.Done():
				return
			}
			if !ok {
				return
			}
			for len(pcm) > 0 {
				n := min(pcmChunkSize, len(pcm))
				select {
				case out <- pcm[:n]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[n:]
			}
		}
	}()
	return out, nil
}

type xttsRequest struct {
	Text       string  `json:"text"`
	SpeakerWav string  `json:"speaker_wav"`
	Language   string  `json:"language"`
	Speed      float64 `json:"speed,omitempty"`
}

func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.Voice, prosody tts.Prosody) ([]byte, error) {
	lang := p.language
	if voice.Language != "" {
		lang = voice.Language
	}

	var req *http.Request
	var err error
	switch p.apiMode {
	case APIModeXTTS:
		body := xttsRequest{Text: sentence, SpeakerWav: voice.ID, Language: lang}
		if prosody.Rate != 1 {
			body.Speed = prosody.Rate
		}
		data, merr := json.Marshal(body)
		if merr != nil {
			return nil, fmt.Errorf("coqui: marshal request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(data))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		q := url.Values{"text": {sentence}}
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if lang != "" {
			q.Set("language_id", lang)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	wav, err := p.do(req)
	if err != nil {
		return nil, err
	}
	pcm, f, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s: %w", req.URL.Path, err)
	}
	if f.Channels == 1 {
		pcm = audio.ResampleMono16(pcm, f.SampleRate, p.outputRate)
	}
	return pcm, nil
}

// do executes req and returns the body of a 200 response.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s response: %w", req.URL.Path, err)
	}
	return data, nil
}

type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ListVoices returns the server's speakers sorted by name. A single-speaker
// standard model is reported as one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	endpoint := detailsEndpoint
	if p.apiMode == APIModeXTTS {
		endpoint = studioSpeakersEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	data, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var names []string
	lang := p.language
	if p.apiMode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := json.Unmarshal(data, &speakers); err != nil {
			return nil, fmt.Errorf("coqui: decode studio speakers: %w", err)
		}
		for name := range speakers {
			names = append(names, name)
		}
	} else {
		var details detailsResponse
		if err := json.Unmarshal(data, &details); err != nil {
			return nil, fmt.Errorf("coqui: decode details: %w", err)
		}
		if details.Language != "" {
			lang = details.Language
		}
		names = slices.Clone(details.Speakers)
		if len(names) == 0 {
			name := details.ModelName
			if name == "" {
				name = "default"
			}
			// The single speaker takes no speaker_id.
			return []tts.Voice{{Name: name, Language: lang, Provider: providerName}}, nil
		}
	}

	slices.Sort(names)
	voices := make([]tts.Voice, 0, len(names))
	for _, n := range names {
		voices = append(voices, tts.Voice{ID: n, Name: n, Language: lang, Provider: providerName})
	}
	return voices, nil
}

// splitSentences cuts text after '.', '!' or '?' when followed by whitespace
// or the end of text, so "3.14" and "e.g." inside words stay intact.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(text) && !unicode.IsSpace(rune(text[i+1])) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
