package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/MrWong99/voxa/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes back to int16 samples.
func bytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(samplesToBytes(100, -100, 100, -100)); got != 100 {
		t.Errorf("RMS = %v, want 100", got)
	}
}

func TestDurationMs(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := audio.DurationMs(make([]byte, 32000), f); got != 1000 {
		t.Errorf("DurationMs = %d, want 1000", got)
	}
	if got := audio.DurationMs(make([]byte, 10), audio.Format{}); got != 0 {
		t.Errorf("DurationMs with zero format = %d, want 0", got)
	}
}

func TestApplyGain(t *testing.T) {
	in := samplesToBytes(1000, -1000, 30000)

	if got := audio.ApplyGain(in, 1); !bytes.Equal(got, in) {
		t.Error("gain 1 should return input unchanged")
	}

	half := bytesToSamples(audio.ApplyGain(in, 0.5))
	if half[0] != 500 || half[1] != -500 || half[2] != 15000 {
		t.Errorf("half gain = %v", half)
	}

	loud := bytesToSamples(audio.ApplyGain(in, 2))
	if loud[2] != 32767 {
		t.Errorf("clamped sample = %d, want 32767", loud[2])
	}
	if bytesToSamples(in)[0] != 1000 {
		t.Error("input was modified")
	}
}

func TestResampleMono16(t *testing.T) {
	in := samplesToBytes(0, 100, 200, 300)
	if got := audio.ResampleMono16(in, 16000, 16000); !bytes.Equal(got, in) {
		t.Error("same rate should be a no-op")
	}
	if got := audio.ResampleMono16(in, 0, 16000); !bytes.Equal(got, in) {
		t.Error("zero rate should be a no-op")
	}

	up := bytesToSamples(audio.ResampleMono16(in, 8000, 16000))
	if len(up) != 8 {
		t.Fatalf("upsampled length = %d, want 8", len(up))
	}
	if up[1] != 50 {
		t.Errorf("interpolated sample = %d, want 50", up[1])
	}

	down := audio.ResampleMono16(in, 16000, 8000)
	if len(down) != 4 {
		t.Errorf("downsampled bytes = %d, want 4", len(down))
	}
}

func TestWAVRoundTripAndExtraChunks(t *testing.T) {
	pcm := samplesToBytes(1, 2, 3, 4)
	f := audio.Format{SampleRate: 22050, Channels: 1}
	wav := audio.EncodeWAV(pcm, f)

	got, gotF, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotF != f || !bytes.Equal(got, pcm) {
		t.Errorf("DecodeWAV = %v %+v", got, gotF)
	}

	// Insert a LIST chunk between fmt and data.
	list := append([]byte("LIST"), 3, 0, 0, 0, 'a', 'b', 'c', 0)
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)
	got, _, err = audio.DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV with LIST chunk: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("payload = %v, want %v", got, pcm)
	}

	if _, _, err := audio.DecodeWAV([]byte("nope")); !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}

func TestReaderSource_RawPCM(t *testing.T) {
	f := audio.Format{SampleRate: 1000, Channels: 1} // 2 bytes per ms
	src := audio.NewReaderSource(bytes.NewReader(make([]byte, 50)), f, 10)

	var sizes []int
	for {
		fr, err := src.ReadFrame(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		sizes = append(sizes, len(fr.Data))
	}
	if len(sizes) != 3 || sizes[0] != 20 || sizes[2] != 10 {
		t.Errorf("frame sizes = %v, want [20 20 10]", sizes)
	}
}

func TestReaderSource_DetectsWAV(t *testing.T) {
	wav := audio.EncodeWAV(make([]byte, 320), audio.Format{SampleRate: 8000, Channels: 1})
	src := audio.NewReaderSource(bytes.NewReader(wav), audio.Format{SampleRate: 16000, Channels: 1}, 20)

	fr, err := src.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if fr.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000 from WAV header", fr.SampleRate)
	}
	if len(fr.Data) != 320 {
		t.Errorf("frame bytes = %d, want 320", len(fr.Data))
	}
	if src.Format().SampleRate != 8000 {
		t.Errorf("Format() = %+v", src.Format())
	}
}

func TestReaderSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := audio.NewReaderSource(bytes.NewReader(make([]byte, 100)), audio.Format{SampleRate: 16000}, 0)
	if _, err := src.ReadFrame(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestWriterSink_Resamples(t *testing.T) {
	var out bytes.Buffer
	sink := audio.NewWriterSink(&out, audio.Format{SampleRate: 16000, Channels: 1})

	err := sink.Play(context.Background(), audio.Frame{Data: samplesToBytes(0, 100), SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if out.Len() != 8 {
		t.Errorf("written bytes = %d, want 8", out.Len())
	}
}
