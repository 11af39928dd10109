package whisper

import "github.com/MrWong99/voxa/pkg/audio"

// defaultRMSThreshold is the energy (in 16-bit sample units) below which a
// chunk counts as silence.
const defaultRMSThreshold = 300.0

// segmenter splits a PCM stream into utterances using an energy gate. Leading
// silence is dropped; an utterance ends after silenceMs of trailing silence or
// once it reaches maxBytes.
//
// A segmenter is not safe for concurrent use.
type segmenter struct {
	format    audio.Format
	threshold float64
	silenceMs int
	maxBytes  int

	buf       []byte
	hadSpeech bool
	quietMs   int
}

func newSegmenter(f audio.Format, silenceMs, maxMs int) *segmenter {
	return &segmenter{
		format:    f,
		threshold: defaultRMSThreshold,
		silenceMs: silenceMs,
		maxBytes:  maxMs * f.BytesPerMs(),
	}
}

// push feeds one chunk and returns a completed utterance, if any.
func (s *segmenter) push(chunk []byte) ([]byte, bool) {
	if audio.RMS(chunk) < s.threshold {
		if !s.hadSpeech {
			return nil, false
		}
		s.buf = append(s.buf, chunk...)
		s.quietMs += audio.DurationMs(chunk, s.format)
		if s.quietMs >= s.silenceMs {
			return s.flush()
		}
		return nil, false
	}

	s.hadSpeech = true
	s.quietMs = 0
	s.buf = append(s.buf, chunk...)
	if s.maxBytes > 0 && len(s.buf) >= s.maxBytes {
		return s.flush()
	}
	return nil, false
}

// flush returns whatever speech is buffered and resets the segmenter.
func (s *segmenter) flush() ([]byte, bool) {
	pcm, ok := s.buf, s.hadSpeech && len(s.buf) > 0
	s.buf = nil
	s.hadSpeech = false
	s.quietMs = 0
	if !ok {
		return nil, false
	}
	return pcm, true
}
