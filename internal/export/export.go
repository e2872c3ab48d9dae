// Package export turns synthesized speech into downloadable files.
package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/babelvox/internal/config"
	"github.com/MrWong99/babelvox/pkg/audio"
	"github.com/MrWong99/babelvox/pkg/audio/codec"
)

// ErrNoAudio is returned by [Build] when there is nothing to export.
var ErrNoAudio = errors.New("export: no audio available")

// Artifact is a ready-to-serve download.
type Artifact struct {
	// Name is the suggested file name, e.g. "translation_spanish.wav".
	Name string

	// Format is the container of Data.
	Format config.ExportFormat

	// ContentType is the MIME type of Data.
	ContentType string

	Data []byte
}

// FileName returns the download name for target in format f. The target
// language is lowercased and every character outside [a-z0-9] becomes an
// underscore, so "Chinese (Simplified)" yields
// "translation_chinese__simplified_.wav".
func FileName(target string, f config.ExportFormat) string {
	var b strings.Builder
	b.WriteString("translation_")
	for _, r := range strings.ToLower(target) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteByte('.')
	b.WriteString(extension(f))
	return b.String()
}

func extension(f config.ExportFormat) string {
	if f == config.ExportOpus {
		return "opus"
	}
	return "wav"
}

// Build packages 16-bit PCM described by format into the container f.
// An empty f selects WAV.
func Build(pcm []byte, format audio.Format, target string, f config.ExportFormat) (Artifact, error) {
	if len(pcm) == 0 {
		return Artifact{}, ErrNoAudio
	}
	if !format.Valid() {
		return Artifact{}, fmt.Errorf("export: invalid audio format %d Hz, %d channels", format.SampleRate, format.Channels)
	}
	if f == "" {
		f = config.ExportWAV
	}

	switch f {
	case config.ExportWAV:
		return Artifact{
			Name:        FileName(target, f),
			Format:      f,
			ContentType: "audio/wav",
			Data:        codec.PackageWAV(pcm, format.SampleRate, format.Channels, 8*audio.BytesPerSample),
		}, nil
	case config.ExportOpus:
		data, err := codec.EncodeCompressed(pcm, format.SampleRate, format.Channels)
		if err != nil {
			return Artifact{}, fmt.Errorf("export: %w", err)
		}
		return Artifact{
			Name:        FileName(target, f),
			Format:      f,
			ContentType: "audio/ogg; codecs=opus",
			Data:        data,
		}, nil
	default:
		return Artifact{}, fmt.Errorf("export: unsupported format %q", f)
	}
}
