package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxa/pkg/provider/stt"
	"github.com/MrWong99/voxa/pkg/provider/stt/whisper"
)

// inferenceServer answers POST /inference with text and records the form
// fields of the last request.
type inferenceServer struct {
	*httptest.Server
	calls atomic.Int32

	mu     sync.Mutex
	fields map[string]string
}

func newInferenceServer(t *testing.T, text string) *inferenceServer {
	t.Helper()
	s := &inferenceServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		s.calls.Add(1)
		s.mu.Lock()
		s.fields = map[string]string{
			"language": r.FormValue("language"),
			"model":    r.FormValue("model"),
		}
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *inferenceServer) field(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields[name]
}

// speech returns a 440 Hz sine wave well above the silence gate.
func speech(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silence(samples int) []byte { return make([]byte, samples*2) }

func start(t *testing.T, p *whisper.Provider, cfg stt.StreamConfig) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	return h
}

func TestNew_EmptyServerURL(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	p, _ := whisper.New("http://localhost:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSilenceOnly_NoInference(t *testing.T) {
	srv := newInferenceServer(t, "unexpected")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(50))
	h := start(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1})

	_ = h.SendAudio(silence(16000))
	time.Sleep(100 * time.Millisecond)
	h.Close()

	if n := srv.calls.Load(); n != 0 {
		t.Errorf("inference calls = %d, want 0", n)
	}
}

func TestSpeechThenSilence_EmitsPartialAndFinal(t *testing.T) {
	srv := newInferenceServer(t, "  what time is it ")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100), whisper.WithModel("base.en"))
	h := start(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-GB"})
	defer h.Close()

	if err := h.SendAudio(speech(1600)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := h.SendAudio(silence(1600)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != "what time is it" || !tr.IsFinal {
			t.Errorf("final = %+v", tr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final")
	}
	select {
	case tr := <-h.Partials():
		if tr.IsFinal {
			t.Error("partial has IsFinal = true")
		}
	default:
		t.Error("expected a partial alongside the final")
	}

	if got := srv.field("language"); got != "en" {
		t.Errorf("language field = %q, want en", got)
	}
	if got := srv.field("model"); got != "base.en" {
		t.Errorf("model field = %q, want base.en", got)
	}
}

func TestClose_FlushesPendingSpeech(t *testing.T) {
	srv := newInferenceServer(t, "goodbye")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(5000))
	h := start(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1})

	_ = h.SendAudio(speech(1600))
	h.Close()

	var got []string
	for tr := range h.Finals() {
		got = append(got, tr.Text)
	}
	if len(got) != 1 || got[0] != "goodbye" {
		t.Errorf("finals after close = %v, want [goodbye]", got)
	}
	if err := stt.SessionErr(h); err != nil {
		t.Errorf("SessionErr = %v, want nil", err)
	}
}

// A whole recording queued ahead of Close must be transcribed, not dropped.
func TestClose_TranscribesQueuedAudio(t *testing.T) {
	for range 20 {
		srv := newInferenceServer(t, "what time is it")
		p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(5000))
		h := start(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1})

		for range 10 {
			if err := h.SendAudio(speech(1600)); err != nil {
				t.Fatalf("SendAudio: %v", err)
			}
		}
		h.Close()

		var got []string
		for tr := range h.Finals() {
			got = append(got, tr.Text)
		}
		if len(got) != 1 || got[0] != "what time is it" {
			t.Fatalf("finals = %v, want [what time is it]", got)
		}
		if n := srv.calls.Load(); n != 1 {
			t.Fatalf("inference calls = %d, want 1", n)
		}
	}
}

func TestSendAudioAfterClose(t *testing.T) {
	p, _ := whisper.New("http://localhost:1")
	h := start(t, p, stt.StreamConfig{})
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := h.SendAudio(speech(10)); err == nil {
		t.Error("expected error from SendAudio after Close")
	}
}

func TestServerError_ReportedBySession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(5000))
	h := start(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	_ = h.SendAudio(speech(1600))
	h.Close()

	for tr := range h.Finals() {
		t.Errorf("unexpected final %+v", tr)
	}
	err := stt.SessionErr(h)
	if err == nil {
		t.Fatal("SessionErr = nil, want the inference failure")
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("SessionErr = %v, want HTTP 500", err)
	}
}
