package session

import (
	"context"

	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// RecognitionConfig is passed to every recognition attempt.
type RecognitionConfig struct {
	// Language is the BCP-47 tag to recognise, e.g. "en-US".
	Language string
	// Continuous keeps listening after the first result. Always false here.
	Continuous bool
	// InterimResults requests non-final results. Always false here.
	InterimResults bool
}

// Recognizer starts one recognition attempt. Start returns once the attempt
// is underway or has failed to start; progress is reported through sink as
// Started, then Result or RecognitionError, then Ended.
type Recognizer interface {
	Start(ctx context.Context, cfg RecognitionConfig, sink Sink) error
}

// Utterance is one reply to be spoken.
type Utterance struct {
	ID     uint64
	Text   string
	Voice  *tts.Voice // nil selects the platform default
	Volume float64
	Rate   float64
	Pitch  float64
}

// Synthesizer speaks utterances. Speak returns once the utterance has been
// submitted and reports UtteranceStarted then UtteranceEnded or
// UtteranceError through sink. Cancel stops whatever is currently playing.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance, sink Sink) error
	Cancel()
}

// Display is the status and transcript surface.
type Display interface {
	// Append adds a line to the conversation log.
	Append(line string)
	// Empty reports whether the log has no lines yet.
	Empty() bool
	// SetStatus replaces the status line.
	SetStatus(status string)
	// SetListening toggles the trigger's listening affordance.
	SetListening(on bool)
	// SetEnabled enables or disables the trigger.
	SetEnabled(on bool)
}
