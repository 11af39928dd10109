package session

import "github.com/MrWong99/voxa/internal/platform"

// EventKind identifies what happened.
type EventKind int

const (
	// EventTrigger is a user request to start listening.
	EventTrigger EventKind = iota + 1
	// EventRecognitionStarted reports that the recogniser is capturing.
	EventRecognitionStarted
	// EventResult carries a final transcript in Transcript.
	EventResult
	// EventRecognitionError carries a platform error identifier in Code.
	EventRecognitionError
	// EventRecognitionEnded reports that the recognition attempt is over.
	EventRecognitionEnded
	// EventUtteranceStarted reports that playback of UtteranceID began.
	EventUtteranceStarted
	// EventUtteranceEnded reports that UtteranceID finished.
	EventUtteranceEnded
	// EventUtteranceError reports that UtteranceID failed with Code.
	EventUtteranceError
	// EventVoicesChanged asks the controller to refresh its voice list.
	EventVoicesChanged
	// EventCapabilities reports what the platform supports.
	EventCapabilities
	// EventSettingsChanged carries new synthesis settings.
	EventSettingsChanged
	// EventStartFailed reports that an accepted start failed afterwards,
	// with the reason in Code.
	EventStartFailed
)

var kindNames = map[EventKind]string{
	EventTrigger:            "trigger",
	EventRecognitionStarted: "recognition_started",
	EventResult:             "result",
	EventRecognitionError:   "recognition_error",
	EventRecognitionEnded:   "recognition_ended",
	EventUtteranceStarted:   "utterance_started",
	EventUtteranceEnded:     "utterance_ended",
	EventUtteranceError:     "utterance_error",
	EventVoicesChanged:      "voices_changed",
	EventCapabilities:       "capabilities",
	EventSettingsChanged:    "settings_changed",
	EventStartFailed:        "start_failed",
}

func (k EventKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event is a message into the controller loop. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind         EventKind
	Transcript   string
	Code         string
	UtteranceID  uint64
	Capabilities platform.Capabilities
	Settings     Settings

	ack chan struct{}
}

// Sink delivers events to a controller. Adapters call it from any goroutine.
type Sink func(Event)

// Convenience constructors used by the platform adapters.

func Started() Event                 { return Event{Kind: EventRecognitionStarted} }
func Result(transcript string) Event { return Event{Kind: EventResult, Transcript: transcript} }
func RecognitionError(code string) Event {
	return Event{Kind: EventRecognitionError, Code: code}
}
func Ended() Event { return Event{Kind: EventRecognitionEnded} }
func UtteranceStarted(id uint64) Event {
	return Event{Kind: EventUtteranceStarted, UtteranceID: id}
}
func UtteranceEnded(id uint64) Event { return Event{Kind: EventUtteranceEnded, UtteranceID: id} }
func UtteranceError(id uint64, code string) Event {
	return Event{Kind: EventUtteranceError, UtteranceID: id, Code: code}
}
func StartFailed(reason string) Event {
	return Event{Kind: EventStartFailed, Code: reason}
}
func VoicesChanged() Event { return Event{Kind: EventVoicesChanged} }
func CapabilitiesReported(c platform.Capabilities) Event {
	return Event{Kind: EventCapabilities, Capabilities: c}
}
