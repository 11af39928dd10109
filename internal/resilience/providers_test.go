package resilience

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/voxa/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxa/pkg/provider/stt/mock"
	"github.com/MrWong99/voxa/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxa/pkg/provider/tts/mock"
)

func collect(ch <-chan []byte) [][]byte {
	var out [][]byte
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestSTTFailover_StartStream(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: errors.New("connection refused")}
	secondary := &sttmock.Provider{}

	f := NewSTTFailover("whisper", primary, CircuitBreakerConfig{MaxFailures: 3})
	f.AddFallback("whisper-backup", secondary)

	cfg := stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"}
	h, err := f.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Close()

	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls: primary %d, secondary %d", primary.CallCount(), secondary.CallCount())
	}
	if got := secondary.StartStreamCalls[0].Cfg; got != cfg {
		t.Errorf("secondary cfg = %+v, want %+v", got, cfg)
	}
	if !f.Available() {
		t.Error("failover should be available")
	}
}

func TestSTTFailover_AllFail(t *testing.T) {
	t.Parallel()
	f := NewSTTFailover("whisper", &sttmock.Provider{StartStreamErr: errTest}, CircuitBreakerConfig{})
	if _, err := f.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFailover_SessionErrorsOpenBreaker(t *testing.T) {
	t.Parallel()
	broken := sttmock.NewSession()
	broken.Error = errors.New("whisper: server returned HTTP 500")
	primary := &sttmock.Provider{Session: broken}
	secondary := &sttmock.Provider{}

	f := NewSTTFailover("whisper", primary, CircuitBreakerConfig{MaxFailures: 2})
	f.AddFallback("deepgram", secondary)

	for range 2 {
		h, err := f.StartStream(context.Background(), stt.StreamConfig{})
		if err != nil {
			t.Fatalf("StartStream: %v", err)
		}
		if err := h.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if stt.SessionErr(h) == nil {
			t.Error("session error not passed through")
		}
	}

	h, err := f.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()
	if primary.CallCount() != 2 || secondary.CallCount() != 1 {
		t.Errorf("calls: primary %d, secondary %d; want 2, 1", primary.CallCount(), secondary.CallCount())
	}
}

func TestSTTFailover_CleanSessionKeepsBreakerClosed(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}
	f := NewSTTFailover("whisper", primary, CircuitBreakerConfig{MaxFailures: 1})
	for range 3 {
		h, err := f.StartStream(context.Background(), stt.StreamConfig{})
		if err != nil {
			t.Fatalf("StartStream: %v", err)
		}
		_ = h.Close()
		_ = h.Close()
	}
	if primary.CallCount() != 3 {
		t.Errorf("primary calls = %d, want 3", primary.CallCount())
	}
}

func TestTTSFailover_PrimaryServes(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Chunks: [][]byte{[]byte("ab"), []byte("cd")}}
	secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("zz")}}

	f := NewTTSFailover("coqui", primary, CircuitBreakerConfig{})
	f.AddFallback("elevenlabs", secondary)

	voice := tts.Voice{ID: "p225", Provider: "coqui"}
	ch, err := f.Synthesize(context.Background(), "hello", voice, tts.Prosody{Rate: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collect(ch); len(got) != 2 || string(got[0]) != "ab" {
		t.Errorf("chunks = %q", got)
	}
	if calls := primary.Calls(); len(calls) != 1 || calls[0].Voice != voice || calls[0].Text != "hello" {
		t.Errorf("primary calls = %+v", calls)
	}
	if len(secondary.Calls()) != 0 {
		t.Error("secondary should not be called")
	}
}

func TestTTSFailover_FallbackUsesOwnDefaultVoice(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("503")}
	secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("xy")}}

	f := NewTTSFailover("coqui", primary, CircuitBreakerConfig{})
	f.AddFallback("elevenlabs", secondary)

	ch, err := f.Synthesize(context.Background(), "hi", tts.Voice{ID: "p225", Provider: "coqui"}, tts.Prosody{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	collect(ch)
	calls := secondary.Calls()
	if len(calls) != 1 {
		t.Fatalf("secondary calls = %d, want 1", len(calls))
	}
	if calls[0].Voice != (tts.Voice{}) {
		t.Errorf("fallback got voice %+v, want zero voice", calls[0].Voice)
	}
}

func TestTTSFailover_ResamplesFallbackAudio(t *testing.T) {
	t.Parallel()
	pcm := make([]byte, 8) // four samples at 8 kHz
	for i := range 4 {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(1000*i))
	}
	primary := &ttsmock.Provider{SynthesizeErr: errTest, Rate: 16000}
	secondary := &ttsmock.Provider{Chunks: [][]byte{pcm}, Rate: 8000}

	f := NewTTSFailover("coqui", primary, CircuitBreakerConfig{})
	f.AddFallback("elevenlabs", secondary)
	if f.SampleRate() != 16000 {
		t.Fatalf("SampleRate = %d, want primary's 16000", f.SampleRate())
	}

	ch, err := f.Synthesize(context.Background(), "hi", tts.Voice{}, tts.Prosody{})
	if err != nil {
		t.Fatal(err)
	}
	got := collect(ch)
	if len(got) != 1 || len(got[0]) != 16 {
		t.Fatalf("resampled chunk lengths = %v, want one 16-byte chunk", got)
	}
}

func TestTTSFailover_ListVoices(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{ListVoicesErr: errTest}
	secondary := &ttsmock.Provider{Voices: []tts.Voice{{ID: "v1", Provider: "elevenlabs"}}}

	f := NewTTSFailover("coqui", primary, CircuitBreakerConfig{})
	f.AddFallback("elevenlabs", secondary)

	voices, err := f.ListVoices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" {
		t.Errorf("voices = %+v", voices)
	}
}
