// Package openai provides an STT provider backed by the OpenAI audio
// transcriptions API. Any OpenAI-compatible server (for example a
// faster-whisper deployment) works through WithBaseURL.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/babelvox/pkg/audio/codec"
	"github.com/MrWong99/babelvox/pkg/provider/stt"
)

const defaultModel = oai.AudioModelWhisper1

// Provider implements stt.Provider using the OpenAI transcriptions endpoint.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*config)

type config struct {
	baseURL string
	model   string
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// New constructs a new OpenAI STT Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	model := defaultModel
	if cfg.model != "" {
		model = oai.AudioModel(cfg.model)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio, language string) (string, error) {
	if len(a.Data) == 0 {
		return "", stt.ErrEmptyAudio
	}

	data, ctype := a.Data, a.BaseType()
	if ctype == stt.MIMEPCM {
		rate, ch := a.SampleRate, a.Channels
		if rate <= 0 {
			rate = 16000
		}
		if ch <= 0 {
			ch = 1
		}
		data, ctype = codec.PackageWAV(a.Data, rate, ch, 16), stt.MIMEWAV
	}
	if ctype == "" {
		ctype = stt.MIMEWebM
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(data), a.FileName(), ctype),
		Model: p.model,
	}
	if language != "" {
		params.Language = param.NewOpt(language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
