// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (the OpenAI
// transcriptions API or a local whisper.cpp server) and turns one recorded
// utterance into text. Capture hands it the finalized recording blob exactly
// as the page produced it, so the audio may be an opaque compressed container
// (audio/webm) or raw PCM that the provider packages itself.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"strings"
)

// MIME types understood by the providers in this module.
const (
	MIMEPCM  = "audio/pcm"
	MIMEWAV  = "audio/wav"
	MIMEWebM = "audio/webm"
	MIMEOgg  = "audio/ogg"
)

// ErrEmptyAudio is returned by Transcribe when Audio carries no bytes.
var ErrEmptyAudio = errors.New("stt: audio is empty")

// Audio is a finalized recording blob.
type Audio struct {
	// Data is the recording bytes.
	Data []byte

	// MIMEType describes Data, e.g. "audio/webm;codecs=opus" or "audio/wav".
	// Parameters after ';' are informational.
	MIMEType string

	// SampleRate and Channels describe Data when MIMEType is MIMEPCM.
	// Ignored for container formats.
	SampleRate int
	Channels   int
}

// BaseType returns the MIME type without parameters, lowercased.
func (a Audio) BaseType() string {
	t, _, _ := strings.Cut(a.MIMEType, ";")
	return strings.ToLower(strings.TrimSpace(t))
}

// FileName returns an upload filename whose extension matches the MIME type.
func (a Audio) FileName() string {
	switch a.BaseType() {
	case MIMEWAV, "audio/x-wav", "audio/wave", MIMEPCM:
		return "audio.wav"
	case MIMEOgg:
		return "audio.ogg"
	case "audio/mpeg":
		return "audio.mp3"
	case "audio/mp4":
		return "audio.m4a"
	default:
		return "audio.webm"
	}
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in audio. language is an ISO 639-1
	// hint such as "en" or "de"; empty lets the backend auto-detect.
	//
	// Returns ErrEmptyAudio for an empty blob and a wrapped backend error for
	// any remote failure. Honours ctx cancellation.
	Transcribe(ctx context.Context, audio Audio, language string) (string, error)
}
