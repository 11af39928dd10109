package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNotWAV is returned when a buffer or stream does not start with a
// RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * 2
	blockAlign := f.Channels * 2
	size := len(pcm)

	buf := make([]byte, 44+size)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+size))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(size))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV walks the RIFF chunks of wav and returns the PCM payload and its
// format. The fmt chunk may be longer than 16 bytes and extra chunks (LIST,
// fact, ...) are skipped.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var f Format
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return nil, Format{}, errors.New("audio: truncated fmt chunk")
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
		case "data":
			if f.SampleRate == 0 {
				return nil, Format{}, errors.New("audio: data chunk before fmt chunk")
			}
			end := min(body+size, len(wav))
			return wav[body:end], f, nil
		}

		offset = body + size + size%2
	}
	return nil, Format{}, errors.New("audio: missing data chunk")
}

// readWAVHeader consumes a RIFF/WAVE header from r up to the start of the
// data chunk and returns the stream format. r must be positioned after the
// 4-byte "RIFF" tag.
func readWAVHeader(r io.Reader) (Format, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Format{}, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(hdr[4:8]) != "WAVE" {
		return Format{}, ErrNotWAV
	}

	var f Format
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return Format{}, fmt.Errorf("audio: read chunk header: %w", err)
		}
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))
		switch string(ch[0:4]) {
		case "fmt ":
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if size < 16 {
				return Format{}, errors.New("audio: truncated fmt chunk")
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:]))
		case "data":
			if f.SampleRate == 0 {
				return Format{}, errors.New("audio: data chunk before fmt chunk")
			}
			return f, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Format{}, fmt.Errorf("audio: skip chunk: %w", err)
			}
		}
	}
}
