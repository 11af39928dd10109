// Package elevenlabs provides a TTS provider backed by the ElevenLabs
// stream-input WebSocket API. Each Synthesize call opens one socket, sends the
// whole utterance, and streams PCM back as it arrives.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxa/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	providerName     = "elevenlabs"
	defaultAPIURL    = "https://api.elevenlabs.io"
	defaultWSURL     = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	// Speed limits accepted by voice_settings.speed.
	minSpeed = 0.7
	maxSpeed = 1.2
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model ID. Defaults to eleven_flash_v2_5.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets a pcm_<rate> output format. Defaults to pcm_16000.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithDefaultVoice sets the voice used when Synthesize receives none.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) { p.defaultVoice = id }
}

// WithEndpoints overrides the REST and WebSocket base URLs.
func WithEndpoints(apiURL, wsURL string) Option {
	return func(p *Provider) {
		p.apiURL = strings.TrimRight(apiURL, "/")
		p.wsURL = strings.TrimRight(wsURL, "/")
	}
}

// Provider implements [tts.Provider] for ElevenLabs.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	sampleRate   int
	defaultVoice string
	apiURL       string
	wsURL        string
	httpClient   *http.Client
}

// New returns a Provider. apiKey must be non-empty and the output format must
// be a raw PCM format.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		apiURL:       defaultAPIURL,
		wsURL:        defaultWSURL,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := pcmRate(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.sampleRate = rate
	return p, nil
}

// pcmRate extracts the sample rate from a "pcm_<rate>" format name.
func pcmRate(format string) (int, error) {
	s, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM", format)
	}
	rate, err := strconv.Atoi(s)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid output format %q", format)
	}
	return rate, nil
}

// SampleRate returns the rate implied by the output format.
func (p *Provider) SampleRate() int { return p.sampleRate }

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey             string         `json:"xi_api_key,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// buildMessages returns the three frames of a single-utterance exchange:
// the opening frame with credentials, the text, and the end-of-input marker.
func (p *Provider) buildMessages(text string, prosody tts.Prosody) ([][]byte, error) {
	prosody = prosody.Neutral()
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if prosody.Rate != 1 {
		vs.Speed = min(max(prosody.Rate, minSpeed), maxSpeed)
	}
	frames := []textMessage{
		{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
		{Text: strings.TrimSpace(text) + " ", TryTriggerGeneration: true},
		{Text: ""},
	}
	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		b, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: marshal message: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{"model_id": {p.model}, "output_format": {p.outputFormat}}
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.wsURL, url.PathEscape(voiceID), q.Encode())
}

// Synthesize streams text through ElevenLabs. Pitch is not supported and is
// ignored. The channel closes after the final audio frame, on a read error,
// or when ctx is cancelled.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice, prosody tts.Prosody) (<-chan []byte, error) {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: no voice selected")
	}
	msgs, err := p.buildMessages(text, prosody)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voiceID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	for _, m := range msgs {
		if err := conn.Write(ctx, websocket.MessageText, m); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				continue
			}
			if resp.Error != "" {
				return
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil {
					select {
					case out <- pcm:
					case <-ctx.Done():
						return
					}
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()
	return out, nil
}

type voicesResponse struct {
	Voices []struct {
		VoiceID string            `json:"voice_id"`
		Name    string            `json:"name"`
		Labels  map[string]string `json:"labels"`
	} `json:"voices"`
}

// parseVoices converts a /v1/voices body. Voices without a language label are
// reported as "en", the language of the stock voice library.
func parseVoices(data []byte) ([]tts.Voice, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}
	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		lang := v.Labels["language"]
		if lang == "" {
			lang = "en"
		}
		voices = append(voices, tts.Voice{ID: v.VoiceID, Name: v.Name, Language: lang, Provider: providerName})
	}
	return voices, nil
}

// ListVoices returns the voices available to the API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	return parseVoices(data)
}
