// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs, the OpenAI
// speech endpoint) and turns one translated sentence into raw PCM. The audio
// travels as a base64 transport payload exactly as the services deliver it;
// callers decode it with codec.DecodeTransport.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrNoAudio is returned by Synthesize when the service answered without an
// audio payload.
var ErrNoAudio = errors.New("tts: response contained no audio")

// Request describes one synthesis call.
type Request struct {
	// Text is the sentence to speak.
	Text string

	// Language is an ISO 639-1 code such as "es". Providers that cannot use
	// it ignore it.
	Language string

	// Voice is the provider-specific voice ID. Empty selects the provider
	// default.
	Voice string
}

// Speech is the synthesized audio of one Request.
type Speech struct {
	// AudioBase64 is signed 16-bit little-endian interleaved PCM, base64
	// encoded with the standard alphabet.
	AudioBase64 string

	// SampleRate, Channels and BitsPerSample describe the decoded PCM.
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// VoiceProfile describes a selectable synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize speaks req.Text and returns the PCM as a base64 payload.
	// Returns ErrNoAudio when the service produced no audio.
	Synthesize(ctx context.Context, req Request) (*Speech, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
