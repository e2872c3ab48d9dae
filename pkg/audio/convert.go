package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter rewrites [Frame] values into a target [Format]. It warns
// once on the first mismatch and drops frames whose byte count is not a whole
// number of frames for their declared layout.
// Create one per capture; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. A frame already in the
// target format is returned unchanged. Conversion order is resample, then
// channel mapping, so that downmixed streams are resampled at full width only
// when they must be.
func (c *FormatConverter) Convert(frame Frame) Frame {
	if frame.Channels <= 0 || len(frame.Data)%(frame.Channels*BytesPerSample) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: PCM chunk is not frame-aligned, dropping",
				"bytes", len(frame.Data),
				"format", formatString(frame.SampleRate, frame.Channels),
			)
		})
		return Frame{
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio: converting capture format",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	if frame.SampleRate != c.Target.SampleRate {
		pcm = Resample16(pcm, frame.Channels, frame.SampleRate, c.Target.SampleRate)
	}
	if frame.Channels != c.Target.Channels {
		pcm = RemapChannels16(pcm, frame.Channels, c.Target.Channels)
	}

	return Frame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// RemapChannels16 maps interleaved 16-bit PCM from src channels to dst
// channels. Downmixing to mono averages all source channels; upmixing from
// mono duplicates the sample; any other layout keeps the first min(src, dst)
// channels and fills the rest with the last copied one.
func RemapChannels16(pcm []byte, src, dst int) []byte {
	if src <= 0 || dst <= 0 || src == dst {
		return pcm
	}
	frames := len(pcm) / (src * BytesPerSample)
	out := make([]byte, frames*dst*BytesPerSample)

	for i := range frames {
		in := pcm[i*src*BytesPerSample:]
		o := out[i*dst*BytesPerSample:]

		if dst == 1 {
			var sum int32
			for ch := range src {
				sum += int32(int16(binary.LittleEndian.Uint16(in[ch*BytesPerSample:])))
			}
			putSample(o, 0, clamp16(sum/int32(src)))
			continue
		}

		var last int16
		for ch := range dst {
			if ch < src {
				last = int16(binary.LittleEndian.Uint16(in[ch*BytesPerSample:]))
			}
			putSample(o, ch, last)
		}
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation per channel. Invalid
// rates or a matching rate return the input unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	stride := channels * BytesPerSample
	srcFrames := len(pcm) / stride
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*stride)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := sampleAt(pcm, idx*channels+ch)
			s1 := sampleAt(pcm, next*channels+ch)
			putSample(out[i*stride:], ch, int16(float64(s0)*(1-frac)+float64(s1)*frac))
		}
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

func putSample(dst []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(v))
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// formatString returns a human-readable layout, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
