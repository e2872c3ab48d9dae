package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the length of the canonical RIFF/WAVE header written by
// [PackageWAV].
const WAVHeaderSize = 44

// formatPCM is the WAVE format tag for uncompressed linear PCM.
const formatPCM = 1

// Header is the decoded form of a canonical 44-byte WAV header.
type Header struct {
	ChunkSize     uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// IsWAV reports whether b starts with a RIFF/WAVE signature.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// BlockAlign returns the bytes per sample frame. Each sample occupies whole
// bytes, so depths that are not a multiple of 8 round up: 12-bit stereo is
// 4 bytes per frame.
func BlockAlign(channels, bitsPerSample int) int {
	return channels * ((bitsPerSample + 7) / 8)
}

// PackageWAV prefixes samples with a RIFF/WAVE header describing them and
// returns the complete container. The sample bytes are copied verbatim.
// Empty input yields a valid 44-byte container with a zero-length data chunk.
func PackageWAV(samples []byte, sampleRate, channels, bitsPerSample int) []byte {
	dataSize := len(samples)
	blockAlign := BlockAlign(channels, bitsPerSample)
	byteRate := sampleRate * blockAlign

	buf := make([]byte, WAVHeaderSize+dataSize)

	// RIFF chunk descriptor; size excludes the "RIFF" tag and the size field.
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(WAVHeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk.
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	// data sub-chunk.
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[WAVHeaderSize:], samples)

	return buf
}

// ParseWAVHeader decodes the canonical header at the start of container.
func ParseWAVHeader(container []byte) (Header, error) {
	if len(container) < WAVHeaderSize {
		return Header{}, &DecodeError{Op: "wav header", Err: fmt.Errorf("need %d bytes, got %d", WAVHeaderSize, len(container))}
	}
	for _, tag := range []struct {
		off  int
		want string
	}{{0, "RIFF"}, {8, "WAVE"}, {12, "fmt "}, {36, "data"}} {
		if got := string(container[tag.off : tag.off+4]); got != tag.want {
			return Header{}, &DecodeError{Op: "wav header", Err: fmt.Errorf("expected %q at offset %d, got %q", tag.want, tag.off, got)}
		}
	}
	if size := binary.LittleEndian.Uint32(container[16:20]); size != 16 {
		return Header{}, &DecodeError{Op: "wav header", Err: fmt.Errorf("unsupported fmt chunk size %d", size)}
	}

	h := Header{
		ChunkSize:     binary.LittleEndian.Uint32(container[4:8]),
		AudioFormat:   binary.LittleEndian.Uint16(container[20:22]),
		Channels:      binary.LittleEndian.Uint16(container[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(container[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(container[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(container[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(container[34:36]),
		DataSize:      binary.LittleEndian.Uint32(container[40:44]),
	}
	if h.AudioFormat != formatPCM {
		return Header{}, &DecodeError{Op: "wav header", Err: fmt.Errorf("unsupported audio format %d", h.AudioFormat)}
	}
	return h, nil
}

// UnpackWAV splits a canonical WAV container into its header and sample
// bytes. A data chunk that declares more bytes than are present is an error.
func UnpackWAV(container []byte) (Header, []byte, error) {
	h, err := ParseWAVHeader(container)
	if err != nil {
		return Header{}, nil, err
	}
	end := WAVHeaderSize + int(h.DataSize)
	if end > len(container) {
		return Header{}, nil, &DecodeError{Op: "wav data", Err: errors.New("data chunk truncated")}
	}
	return h, container[WAVHeaderSize:end], nil
}
