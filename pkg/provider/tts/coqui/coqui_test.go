package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxa/pkg/audio"
	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// drain collects every chunk until the channel closes.
func drain(ch <-chan []byte) []byte {
	var out []byte
	for c := range ch {
		out = append(out, c...)
	}
	return out
}

// wavFor returns a WAV whose PCM repeats the first byte of text, so the
// order of sentences can be read back from the output.
func wavFor(text string, n int) []byte {
	return audio.EncodeWAV(bytes.Repeat([]byte{text[0]}, n), audio.Format{SampleRate: 22050, Channels: 1})
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello there! How can I help you today?", []string{"Hello there!", "How can I help you today?"}},
		{"The current time is 2:07:09 PM", []string{"The current time is 2:07:09 PM"}},
		{"Pi is 3.14. Nice.", []string{"Pi is 3.14.", "Nice."}},
		{"   ", nil},
	}
	for _, tt := range tests {
		if got := splitSentences(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("splitSentences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSynthesize_StandardPreservesSentenceOrder(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		text := r.URL.Query().Get("text")
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()
		// Make the first sentence the slowest.
		if strings.HasPrefix(text, "A") {
			time.Sleep(30 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavFor(text, 4))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.Synthesize(context.Background(), "A first. B second. C third.", tts.Voice{ID: "p225"}, tts.Prosody{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := string(drain(ch)); got != "AAAABBBBCCCC" {
		t.Errorf("pcm = %q, want sentences in order", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(queries) != 3 {
		t.Fatalf("requests = %d, want 3", len(queries))
	}
	if !strings.Contains(queries[0], "speaker_id=p225") || !strings.Contains(queries[0], "language_id=en") {
		t.Errorf("query = %q", queries[0])
	}
}

func TestSynthesize_DeliversEverySentence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(wavFor(r.URL.Query().Get("text"), 4))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	const joke = "Why don't scientists trust atoms? Because they make up everything!"
	for i := range 200 {
		ch, err := p.Synthesize(context.Background(), joke, tts.Voice{}, tts.Prosody{})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if got := string(drain(ch)); got != "WWWWBBBB" {
			t.Fatalf("run %d: pcm = %q, want both sentences", i, got)
		}
	}
}

func TestSynthesize_StopsAtFailedSentence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		text := r.URL.Query().Get("text")
		if strings.HasPrefix(text, "B") {
			time.Sleep(50 * time.Millisecond)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(wavFor(text, 4))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	ch, err := p.Synthesize(context.Background(), "A first. B second. C third.", tts.Voice{}, tts.Prosody{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := string(drain(ch)); got != "AAAA" {
		t.Errorf("pcm = %q, want only the sentence before the failure", got)
	}
}

func TestSynthesize_XTTSRequestBody(t *testing.T) {
	bodies := make(chan xttsRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != xttsEndpoint {
			http.NotFound(w, r)
			return
		}
		var req xttsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		bodies <- req
		_, _ = w.Write(wavFor("x", 2))
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithAPIMode(APIModeXTTS))
	voice := tts.Voice{ID: "Ana Florence", Language: "de"}
	ch, err := p.Synthesize(context.Background(), "Hallo", voice, tts.Prosody{Rate: 1.5})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	drain(ch)

	got := <-bodies
	if got.SpeakerWav != "Ana Florence" || got.Language != "de" || got.Speed != 1.5 || got.Text != "Hallo" {
		t.Errorf("request = %+v", got)
	}
}

func TestSynthesize_XTTSRequiresVoice(t *testing.T) {
	p, _ := New("http://localhost:1", WithAPIMode(APIModeXTTS))
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{}, tts.Prosody{}); err == nil {
		t.Fatal("expected error without voice in XTTS mode")
	}
}

func TestSynthesize_ResamplesToOutputRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 200), audio.Format{SampleRate: 8000, Channels: 1}))
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithOutputSampleRate(16000))
	if p.SampleRate() != 16000 {
		t.Fatalf("SampleRate = %d", p.SampleRate())
	}
	ch, err := p.Synthesize(context.Background(), "hi", tts.Voice{}, tts.Prosody{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if n := len(drain(ch)); n != 400 {
		t.Errorf("pcm bytes = %d, want 400", n)
	}
}

func TestSynthesize_ServerErrorClosesChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	ch, err := p.Synthesize(context.Background(), "One. Two.", tts.Voice{}, tts.Prosody{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	done := make(chan []byte)
	go func() { done <- drain(ch) }()
	select {
	case pcm := <-done:
		if len(pcm) != 0 {
			t.Errorf("got %d bytes after server error", len(pcm))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after server error")
	}
}

func TestListVoices(t *testing.T) {
	tests := []struct {
		name string
		mode APIMode
		path string
		body string
		want []tts.Voice
	}{
		{
			name: "standard multi speaker",
			mode: APIModeStandard,
			path: detailsEndpoint,
			body: `{"model_name":"vctk","language":"en","speakers":["p376","p225"]}`,
			want: []tts.Voice{
				{ID: "p225", Name: "p225", Language: "en", Provider: "coqui"},
				{ID: "p376", Name: "p376", Language: "en", Provider: "coqui"},
			},
		},
		{
			name: "standard single speaker",
			mode: APIModeStandard,
			path: detailsEndpoint,
			body: `{"model_name":"tacotron2-DDC"}`,
			want: []tts.Voice{{Name: "tacotron2-DDC", Language: "en", Provider: "coqui"}},
		},
		{
			name: "xtts studio speakers",
			mode: APIModeXTTS,
			path: studioSpeakersEndpoint,
			body: `{"Claribel Dervla":{},"Ana Florence":{}}`,
			want: []tts.Voice{
				{ID: "Ana Florence", Name: "Ana Florence", Language: "en", Provider: "coqui"},
				{ID: "Claribel Dervla", Name: "Claribel Dervla", Language: "en", Provider: "coqui"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, _ := New(srv.URL, WithAPIMode(tt.mode))
			got, err := p.ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("voices = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := New("http://x", WithAPIMode("bogus")); err == nil {
		t.Error("expected error for unknown mode")
	}
}
