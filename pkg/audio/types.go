// Package audio holds the PCM primitives shared by babelvox's capture,
// synthesis and export paths: the [Frame] unit that carries raw 16-bit
// little-endian samples, the [Format] descriptor and a streaming
// [FormatConverter] that normalises microphone input before it is buffered.
package audio

import "time"

// BytesPerSample is the size of one signed 16-bit PCM sample.
const BytesPerSample = 2

// Format describes the sample rate and channel count of an interleaved
// 16-bit PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// SynthesisFormat is the fixed layout returned by the speech-synthesis
// collaborator: 24 kHz, mono.
var SynthesisFormat = Format{SampleRate: 24000, Channels: 1}

// BlockAlign returns the number of bytes in one interleaved frame across all
// channels.
func (f Format) BlockAlign() int {
	return f.Channels * BytesPerSample
}

// ByteRate returns the number of bytes consumed per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns the playback length of n bytes of PCM in this format.
// Trailing bytes that do not form a complete frame are not counted.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := n / f.BlockAlign()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Valid reports whether f describes a usable stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Frame is one chunk of interleaved PCM audio as it arrives from the browser
// microphone or leaves the synthesis collaborator.
type Frame struct {
	// Data is signed 16-bit little-endian PCM, interleaved by channel.
	Data []byte

	// SampleRate in Hz (24000 for synthesized speech, commonly 48000 for
	// browser microphones).
	SampleRate int

	// Channels is the number of interleaved channels in Data.
	Channels int

	// Timestamp marks the frame's offset from the start of its capture.
	Timestamp time.Duration
}

// Format returns the frame's layout.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}
