// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    Voices: []tts.Voice{{ID: "v1", Name: "Alice", Language: "en-US"}},
//	}
//	ch, _ := p.Synthesize(ctx, "hello", tts.Voice{}, tts.Prosody{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx     context.Context
	Text    string
	Voice   tts.Voice
	Prosody tts.Prosody
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is emitted on the channel returned by Synthesize.
	Chunks [][]byte

	// Block, if non-nil, is waited on before the audio channel is closed.
	// Use it to keep an utterance "playing" until the test releases it or the
	// context is cancelled.
	Block chan struct{}

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	// Rate is returned by SampleRate. Zero means 16000.
	Rate int

	SynthesizeCalls []SynthesizeCall
	ListVoicesCalls int
}

// Synthesize records the call and, if SynthesizeErr is nil, returns a
// channel that emits Chunks then closes.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice, prosody tts.Prosody) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice, Prosody: prosody})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	block := p.Block
	p.mu.Unlock()

	ch := make(chan []byte)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
		if block != nil {
			select {
			case <-ctx.Done():
			case <-block:
			}
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.Voices, p.ListVoicesErr
}

// SampleRate returns Rate, defaulting to 16000.
func (p *Provider) SampleRate() int {
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

var _ tts.Provider = (*Provider)(nil)
