// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., a local whisper.cpp
// server) behind a uniform streaming interface. Once opened, a SessionHandle
// accepts raw PCM audio chunks and emits Transcript values on two channels:
// interim partials and authoritative finals. The assistant runs in
// single-utterance mode and consumes only the first final of each session.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Transcript is a speech-to-text result. Partial and final results share the
// type and are told apart by IsFinal.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports whether the provider has committed to this result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report one.
	Confidence float64
}

// StreamConfig describes the audio format and language for a new session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of interleaved audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider pick its default.
	Language string
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM audio. Calling
	// SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Close flushes pending audio and releases all resources. Partials and
	// Finals are closed once Close returns. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new transcription session. Returns an error if the
	// session cannot be established (authentication failure, ctx already
	// cancelled, ...). The caller owns the returned handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// ErrorReporter is implemented by sessions that can fail after StartStream
// returned, for example when each utterance is sent to a server separately.
type ErrorReporter interface {
	// Err returns the error that ended the session without a final
	// transcript, or nil. It is only meaningful once Finals is closed.
	Err() error
}

// SessionErr returns h's error when h implements [ErrorReporter], or nil.
func SessionErr(h SessionHandle) error {
	if r, ok := h.(ErrorReporter); ok {
		return r.Err()
	}
	return nil
}
