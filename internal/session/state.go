package session

// State is the controller's lifecycle state.
type State int32

const (
	// Idle waits for a trigger.
	Idle State = iota
	// Listening has an active recognition attempt.
	Listening
	// Processing is matching a transcript and choosing a reply.
	Processing
	// Speaking has an utterance submitted to the synthesizer.
	Speaking
	// Errored follows a failed start or a recognition error. A new trigger
	// is accepted.
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}
