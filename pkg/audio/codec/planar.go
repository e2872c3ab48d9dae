package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PlanarBuffer holds de-interleaved float samples, one slice per channel,
// normalised to [-1, 1).
type PlanarBuffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples in each channel.
func (b PlanarBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// DecodeToPlanarFloat de-interleaves signed 16-bit little-endian PCM into one
// float slice per channel, dividing each sample by 32768.
//
// The frame count is the whole-sample count divided by channels. A trailing
// partial frame, and a trailing odd byte, are dropped.
func DecodeToPlanarFloat(raw []byte, sampleRate, channels int) (PlanarBuffer, error) {
	if channels <= 0 {
		return PlanarBuffer{}, fmt.Errorf("codec: channels must be positive, got %d", channels)
	}
	if sampleRate <= 0 {
		return PlanarBuffer{}, fmt.Errorf("codec: sample rate must be positive, got %d", sampleRate)
	}

	frames := (len(raw) / 2) / channels
	planes := make([][]float32, channels)
	for ch := range planes {
		planes[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			planes[ch][i] = float32(int16(binary.LittleEndian.Uint16(raw[off:off+2]))) / 32768.0
		}
	}
	return PlanarBuffer{SampleRate: sampleRate, Channels: planes}, nil
}

// EncodePCM16 interleaves planar float samples into signed 16-bit
// little-endian PCM. Values are clamped to [-1, 1] and rounded to the nearest
// quantisation step, so decoding the result with [DecodeToPlanarFloat]
// reproduces the input within 1/32768. Channels shorter than the first are
// padded with silence.
func EncodePCM16(planes [][]float32) []byte {
	if len(planes) == 0 {
		return nil
	}
	channels := len(planes)
	frames := len(planes[0])
	out := make([]byte, frames*channels*2)
	for i := range frames {
		for ch := range channels {
			var v float32
			if i < len(planes[ch]) {
				v = planes[ch][i]
			}
			binary.LittleEndian.PutUint16(out[(i*channels+ch)*2:], uint16(quantize(v)))
		}
	}
	return out
}

func quantize(v float32) int16 {
	s := math.Round(float64(v) * 32768)
	if math.IsNaN(s) {
		return 0
	}
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}
