package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxa/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	q := query(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-GB"})
	assertEqual(t, "model", defaultModel, q.Get("model"))
	assertEqual(t, "language", "en-GB", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if q.Has("endpointing") || q.Has("keywords") {
		t.Errorf("unexpected optional params: %v", q)
	}
}

func TestBuildURL_ProviderDefaultsFillGaps(t *testing.T) {
	t.Parallel()
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000), WithEndpointingMs(300))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	q := query(t, p, stt.StreamConfig{})
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "endpointing", "300", q.Get("endpointing"))
}

func TestBuildURL_Keywords(t *testing.T) {
	t.Parallel()
	p, err := New("key", WithKeywords(0, "weather", " ", "how are you"), WithKeywords(5, "joke"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := query(t, p, stt.StreamConfig{})["keywords"]
	want := []string{"weather:2", "how are you:2", "joke:5"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("keywords = %q, want %q", got, want)
	}
}

// ---- parsing tests ----

func TestParseResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		ok   bool
		want stt.Transcript
	}{
		{
			name: "final",
			raw:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hello world","confidence":0.95}]}}`,
			ok:   true,
			want: stt.Transcript{Text: "Hello world", IsFinal: true, Confidence: 0.95},
		},
		{
			name: "speech final",
			raw:  `{"type":"Results","speech_final":true,"channel":{"alternatives":[{"transcript":"bye","confidence":0.8}]}}`,
			ok:   true,
			want: stt.Transcript{Text: "bye", IsFinal: true, Confidence: 0.8},
		},
		{
			name: "partial",
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Hel","confidence":0.4}]}}`,
			ok:   true,
			want: stt.Transcript{Text: "Hel", Confidence: 0.4},
		},
		{name: "empty final", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" "}]}}`},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"abc"}`},
		{name: "no alternatives", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{name: "invalid json", raw: `{invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseResponse([]byte(tt.raw))
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseResponse = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

// ---- constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// ---- streaming tests ----

// fakeDeepgram accepts one session, counts audio bytes and answers
// CloseStream with a partial and a final result.
func fakeDeepgram(t *testing.T, received chan<- int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		audio := 0
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				audio += len(data)
				continue
			}
			received <- audio
			_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel","confidence":0.5}]}}`))
			_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there","confidence":0.9}]}}`))
			c.Close(websocket.StatusNormalClosure, "")
			return
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStartStream_RoundTrip(t *testing.T) {
	t.Parallel()
	received := make(chan int, 1)
	srv := fakeDeepgram(t, received)

	p, err := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	for range 2 {
		if err := h.SendAudio(make([]byte, 320)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case n := <-received:
		if n != 640 {
			t.Errorf("server received %d audio bytes, want 640", n)
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw CloseStream")
	}

	var finals []stt.Transcript
	for tr := range h.Finals() {
		finals = append(finals, tr)
	}
	if len(finals) != 1 || finals[0].Text != "hello there" {
		t.Errorf("finals = %+v", finals)
	}
	var partials []stt.Transcript
	for tr := range h.Partials() {
		partials = append(partials, tr)
	}
	if len(partials) != 1 || partials[0].Text != "hel" {
		t.Errorf("partials = %+v", partials)
	}

	if err := h.SendAudio([]byte{0, 0}); !errors.Is(err, errClosed) {
		t.Errorf("SendAudio after Close = %v, want errClosed", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestStartStream_Unauthorized(t *testing.T) {
	t.Parallel()
	srv := fakeDeepgram(t, make(chan int, 1))
	p, err := New("wrong", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Error("expected dial error for rejected key")
	}
}

// ---- helpers ----

func query(t *testing.T, p *Provider, cfg stt.StreamConfig) url.Values {
	t.Helper()
	raw, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	return u.Query()
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
