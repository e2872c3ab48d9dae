package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/babelvox/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFormat_Derived(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 24000, Channels: 1}
	if f.BlockAlign() != 2 {
		t.Errorf("BlockAlign = %d, want 2", f.BlockAlign())
	}
	if f.ByteRate() != 48000 {
		t.Errorf("ByteRate = %d, want 48000", f.ByteRate())
	}
	if got := f.Duration(48000); got != time.Second {
		t.Errorf("Duration(48000) = %v, want 1s", got)
	}
	if got := (audio.Format{}).Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}

func TestRemapChannels16(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       []int16
		src, dst int
		want     []int16
	}{
		{"mono to stereo", []int16{100, 200, 300}, 1, 2, []int16{100, 100, 200, 200, 300, 300}},
		{"stereo to mono", []int16{100, 200, -100, -200}, 2, 1, []int16{150, -150}},
		{"stereo to mono no overflow", []int16{32767, 32767}, 2, 1, []int16{32767}},
		{"quad to mono", []int16{100, 200, 300, 400}, 4, 1, []int16{250}},
		{"stereo to quad", []int16{1, 2}, 2, 4, []int16{1, 2, 2, 2}},
		{"same layout", []int16{7, 8}, 2, 2, []int16{7, 8}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.RemapChannels16(samplesToBytes(tc.in), tc.src, tc.dst))
			equalSamples(t, got, tc.want)
		})
	}
}

func TestRemapChannels16_TrailingPartialFrame(t *testing.T) {
	t.Parallel()
	// Two complete mono samples plus a stray byte.
	pcm := []byte{0x64, 0x00, 0xC8, 0x00, 0xFF}
	out := audio.RemapChannels16(pcm, 1, 2)
	if len(out) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(out))
	}
	equalSamples(t, bytesToSamples(out), []int16{100, 100, 200, 200})
}

func TestResample16(t *testing.T) {
	t.Parallel()
	t.Run("same rate", func(t *testing.T) {
		t.Parallel()
		pcm := samplesToBytes([]int16{100, 200, 300})
		if out := audio.Resample16(pcm, 1, 48000, 48000); len(out) != len(pcm) {
			t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
		}
	})
	t.Run("upsample mono", func(t *testing.T) {
		t.Parallel()
		got := bytesToSamples(audio.Resample16(samplesToBytes([]int16{1000, 2000}), 1, 16000, 48000))
		if len(got) != 6 {
			t.Fatalf("expected 6 samples, got %d", len(got))
		}
		if got[0] != 1000 {
			t.Errorf("first sample: got %d, want 1000", got[0])
		}
		if last := got[len(got)-1]; last < 1800 || last > 2200 {
			t.Errorf("last sample: got %d, want close to 2000", last)
		}
	})
	t.Run("downsample mono", func(t *testing.T) {
		t.Parallel()
		got := bytesToSamples(audio.Resample16(samplesToBytes([]int16{100, 200, 300, 400, 500, 600}), 1, 48000, 16000))
		if len(got) != 2 {
			t.Fatalf("expected 2 samples, got %d", len(got))
		}
	})
	t.Run("upsample stereo keeps channels apart", func(t *testing.T) {
		t.Parallel()
		got := bytesToSamples(audio.Resample16(samplesToBytes([]int16{100, -100, 300, -300}), 2, 16000, 48000))
		if len(got) != 12 {
			t.Fatalf("expected 12 samples, got %d", len(got))
		}
		for i := 0; i < len(got); i += 2 {
			if got[i] < 0 || got[i+1] > 0 {
				t.Errorf("frame %d mixed channels: L=%d R=%d", i/2, got[i], got[i+1])
			}
		}
	})
	t.Run("invalid rates", func(t *testing.T) {
		t.Parallel()
		pcm := samplesToBytes([]int16{100, 200})
		for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}} {
			if out := audio.Resample16(pcm, 1, rates[0], rates[1]); len(out) != len(pcm) {
				t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
			}
		}
	})
}

func TestFormatConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.Frame{Data: samplesToBytes([]int16{100, 200}), SampleRate: 16000, Channels: 1}
	result := conv.Convert(frame)
	if &result.Data[0] != &frame.Data[0] {
		t.Error("expected the same slice for a matching format")
	}
}

func TestFormatConverter_MicrophoneToTranscription(t *testing.T) {
	t.Parallel()
	// 48 kHz stereo browser capture normalised to 16 kHz mono.
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := make([]int16, 0, 96)
	for range 48 {
		in = append(in, 1000, 3000)
	}
	result := conv.Convert(audio.Frame{Data: samplesToBytes(in), SampleRate: 48000, Channels: 2, Timestamp: time.Second})

	if result.SampleRate != 16000 || result.Channels != 1 {
		t.Fatalf("unexpected format: %dHz %dch", result.SampleRate, result.Channels)
	}
	if result.Timestamp != time.Second {
		t.Errorf("timestamp = %v, want 1s", result.Timestamp)
	}
	got := bytesToSamples(result.Data)
	if len(got) != 16 {
		t.Fatalf("expected 16 samples, got %d", len(got))
	}
	for i, s := range got {
		if s != 2000 {
			t.Errorf("sample %d = %d, want 2000", i, s)
		}
	}
}

func TestFormatConverter_MisalignedChunkDropped(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	tests := []struct {
		name  string
		frame audio.Frame
	}{
		{"odd bytes", audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}},
		{"partial stereo frame", audio.Frame{Data: []byte{1, 2, 3, 4, 5, 6}, SampleRate: 48000, Channels: 2}},
		{"zero channels", audio.Frame{Data: []byte{1, 2}, SampleRate: 48000}},
	}
	for _, tc := range tests {
		result := conv.Convert(tc.frame)
		if len(result.Data) != 0 {
			t.Errorf("%s: expected dropped frame, got %d bytes", tc.name, len(result.Data))
		}
		if result.SampleRate != 16000 || result.Channels != 1 {
			t.Errorf("%s: dropped frame should carry target format, got %dHz %dch", tc.name, result.SampleRate, result.Channels)
		}
	}
}
