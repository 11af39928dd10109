package browser

import (
	"github.com/MrWong99/voxa/internal/conversation"
	"github.com/MrWong99/voxa/internal/platform"
	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// Message types sent to the page.
const (
	msgBoard     = "board"     // full snapshot, sent on connect
	msgStart     = "start"     // start a recognition attempt
	msgSpeak     = "speak"     // speak an utterance
	msgCancel    = "cancel"    // stop speaking
	msgLog       = "log"       // append a conversation line
	msgStatus    = "status"    // replace the status line
	msgListening = "listening" // toggle the listening affordance
	msgEnabled   = "enabled"   // enable or disable the button
)

// Message types received from the page.
const (
	msgTrigger        = "trigger"
	msgCapabilities   = "capabilities"
	msgVoices         = "voices"
	msgStarted        = "started"
	msgStartFailed    = "start_failed"
	msgResult         = "result"
	msgError          = "error"
	msgEnd            = "end"
	msgUtteranceStart = "utterance_start"
	msgUtteranceEnd   = "utterance_end"
	msgUtteranceError = "utterance_error"
)

// message is the single JSON envelope used in both directions. Only the
// fields relevant to Type are set.
type message struct {
	Type string `json:"type"`

	// start
	Lang string `json:"lang,omitempty"`

	// speak, utterance_*
	ID     uint64  `json:"id,omitempty"`
	Text   string  `json:"text,omitempty"`
	Voice  string  `json:"voice,omitempty"`
	Volume float64 `json:"volume,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
	Pitch  float64 `json:"pitch,omitempty"`

	// log, status, listening, enabled, board
	Line   string                 `json:"line,omitempty"`
	Status string                 `json:"status,omitempty"`
	On     bool                   `json:"on,omitempty"`
	Board  *conversation.Snapshot `json:"board,omitempty"`

	// result, error, start_failed, utterance_error
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"`

	// capabilities, voices
	Capabilities *platform.Capabilities `json:"capabilities,omitempty"`
	Voices       []tts.Voice            `json:"voices,omitempty"`
}

// updateMessage converts a board update into its outgoing message.
func updateMessage(u conversation.Update) message {
	switch u.Kind {
	case conversation.UpdateLine:
		return message{Type: msgLog, Line: u.Line}
	case conversation.UpdateStatus:
		return message{Type: msgStatus, Status: u.Status}
	case conversation.UpdateListening:
		return message{Type: msgListening, On: u.On}
	default:
		return message{Type: msgEnabled, On: u.On}
	}
}
