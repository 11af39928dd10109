// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a synthesis service (a local Coqui server, ElevenLabs,
// ...) behind a uniform interface. Synthesize takes one complete utterance and
// returns a channel of raw 16-bit mono PCM chunks as they become available.
// Cancelling the context stops synthesis and closes the channel, which is how
// the assistant interrupts an utterance that is still playing.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice describes one voice offered by a provider.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Language is the locale tag of the voice (e.g., "en-US", "de").
	// May be empty when the provider does not report it.
	Language string `json:"language,omitempty"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider,omitempty"`
}

// Prosody carries the per-utterance speaking parameters. 1.0 is neutral for
// both fields; zero values are treated as neutral.
type Prosody struct {
	// Rate scales the speaking speed.
	Rate float64

	// Pitch scales the voice pitch. Providers without pitch control ignore it.
	Pitch float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text into PCM audio. The returned channel emits audio
	// chunks and is closed when synthesis completes, fails, or ctx is
	// cancelled. The caller must drain it.
	//
	// A zero voice lets the provider pick its default voice. Returns a non-nil
	// error only when synthesis cannot be started.
	Synthesize(ctx context.Context, text string, voice Voice, prosody Prosody) (<-chan []byte, error)

	// ListVoices returns the provider's current voice catalogue.
	ListVoices(ctx context.Context) ([]Voice, error)

	// SampleRate is the sample rate in Hz of the PCM emitted by Synthesize.
	SampleRate() int
}

// Neutral fills zero prosody fields with 1.0.
func (p Prosody) Neutral() Prosody {
	if p.Rate == 0 {
		p.Rate = 1
	}
	if p.Pitch == 0 {
		p.Pitch = 1
	}
	return p
}
