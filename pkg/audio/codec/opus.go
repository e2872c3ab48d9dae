package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"layeh.com/gopus"

	"github.com/MrWong99/babelvox/pkg/audio"
)

const (
	// opusFrameMs is the block length fed to the encoder per call.
	opusFrameMs = 20

	// opusMaxPacket bounds a single encoded frame.
	opusMaxPacket = 4000

	// opusClockRate is the fixed RTP and granule clock for Opus.
	opusClockRate = 48000
)

// opusRates lists the input rates libopus accepts natively.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// EncodeCompressed encodes signed 16-bit little-endian PCM into an Ogg Opus
// file. Samples are fed to the encoder in fixed 20 ms blocks; the trailing
// partial block is zero-padded and flushed as the final packet. Each packet
// is stamped with the 48 kHz position of its real end, so the last page's
// granule position trims the padding back off.
//
// Rates libopus cannot take directly are resampled to 48 kHz and layouts
// wider than stereo are downmixed to stereo first.
func EncodeCompressed(raw []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("codec: invalid format %d Hz, %d channels", sampleRate, channels)
	}

	pcm := raw[:len(raw)-len(raw)%(channels*audio.BytesPerSample)]
	inputRate := sampleRate
	if channels > 2 {
		pcm = audio.RemapChannels16(pcm, channels, 2)
		channels = 2
	}
	if !slices.Contains(opusRates, sampleRate) {
		pcm = audio.Resample16(pcm, channels, sampleRate, opusClockRate)
		sampleRate = opusClockRate
	}

	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus encoder: %w", err)
	}

	var out bytes.Buffer
	w, err := oggwriter.NewWith(&out, uint32(inputRate), uint16(channels))
	if err != nil {
		return nil, fmt.Errorf("codec: create ogg writer: %w", err)
	}

	samples := bytesToInt16s(pcm)
	frameSize := sampleRate * opusFrameMs / 1000
	block := frameSize * channels
	blocks := (len(samples) + block - 1) / block
	if blocks == 0 {
		blocks = 1
	}
	for i := range blocks {
		chunk := make([]int16, block)
		lo := min(i*block, len(samples))
		hi := min(lo+block, len(samples))
		copy(chunk, samples[lo:hi])

		packet, err := enc.Encode(chunk, frameSize, opusMaxPacket)
		if err != nil {
			return nil, fmt.Errorf("codec: opus encode block %d: %w", i, err)
		}

		endFrame := uint64(hi / channels)
		ts := uint32(endFrame * opusClockRate / uint64(sampleRate))
		pkt := &rtp.Packet{Header: rtp.Header{Timestamp: ts}, Payload: packet}
		if err := w.WriteRTP(pkt); err != nil {
			return nil, fmt.Errorf("codec: ogg write block %d: %w", i, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: close ogg writer: %w", err)
	}
	return out.Bytes(), nil
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return pcm
}
