// Package platform describes the host environments the assistant can run in
// and what each of them supports.
//
// A platform bundles a recogniser, an optional synthesiser and a voice source.
// Implementations live in the console, speech and browser subpackages.
package platform

// Capabilities reports which speech services a platform offers.
type Capabilities struct {
	Recognition bool `json:"recognition"`
	Synthesis   bool `json:"synthesis"`
}

// Full is a platform that supports both services.
var Full = Capabilities{Recognition: true, Synthesis: true}

// Status and log texts shown when a capability is missing.
const (
	RecognitionUnsupportedLog    = "Speech recognition not supported"
	RecognitionUnsupportedStatus = "API not supported"
	SynthesisUnsupportedLog      = "Speech synthesis not supported - voice responses disabled"
	SynthesisUnsupportedStatus   = "Speech synthesis not supported"
)

// Web Speech API error identifiers. Every platform reports failures with
// these codes so the log reads the same everywhere.
const (
	CodeNoSpeech        = "no-speech"
	CodeAudioCapture    = "audio-capture"
	CodeNetwork         = "network"
	CodeAborted         = "aborted"
	CodeNotAllowed      = "not-allowed"
	CodeSynthesisFailed = "synthesis-failed"
	CodeInterrupted     = "interrupted"
)
