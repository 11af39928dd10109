// Package audio holds the PCM plumbing between the assistant and the outside
// world: a [Source] delivers microphone-style frames to a recogniser and a
// [Sink] plays synthesised speech.
//
// All audio is 16-bit signed little-endian PCM. Sources and sinks are backed
// by plain io.Reader / io.Writer values, so a pipe from arecord, a WAV file
// or a FIFO to aplay all work without platform-specific code.
package audio

// Frame is a single chunk of PCM audio flowing through the pipeline.
type Frame struct {
	// Data holds interleaved 16-bit little-endian samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Format describes the sample rate and channel layout of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerMs returns the number of PCM bytes per millisecond of audio.
func (f Format) BytesPerMs() int {
	return f.SampleRate * f.Channels * 2 / 1000
}
