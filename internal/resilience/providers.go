package resilience

import (
	"context"

	"github.com/MrWong99/babelvox/pkg/provider/llm"
	"github.com/MrWong99/babelvox/pkg/provider/stt"
	"github.com/MrWong99/babelvox/pkg/provider/tts"
)

// chain is the failover core embedded by the typed provider wrappers.
type chain[T any] struct {
	group *FallbackGroup[T]
}

func newChain[T any](primary T, name string, cfg FallbackConfig) chain[T] {
	return chain[T]{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback appends a backend tried after those added before it.
func (c chain[T]) AddFallback(name string, p T) { c.group.AddFallback(name, p) }

// States reports each backend's breaker state keyed by name.
func (c chain[T]) States() map[string]State { return c.group.States() }

// Healthy returns nil while at least one backend admits calls.
func (c chain[T]) Healthy() error { return c.group.Healthy() }

// LLMFallback is an [llm.Provider] failing over across completion backends.
// A request no backend could send is rejected before any is tried.
type LLMFallback struct {
	chain[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a chain whose preferred backend is primary.
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{newChain(primary, name, cfg)}
}

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// STTFallback is an [stt.Provider] failing over across transcription
// backends. An empty blob is rejected before any backend is tried.
type STTFallback struct {
	chain[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns a chain whose preferred backend is primary.
func NewSTTFallback(primary stt.Provider, name string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{newChain(primary, name, cfg)}
}

// Transcribe implements [stt.Provider].
func (f *STTFallback) Transcribe(ctx context.Context, audio stt.Audio, language string) (string, error) {
	if len(audio.Data) == 0 {
		return "", stt.ErrEmptyAudio
	}
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, audio, language)
	})
}

// TTSFallback is a [tts.Provider] failing over across speech backends.
// Voice IDs belong to one provider, so fallbacks speak with their own default
// voice.
type TTSFallback struct {
	chain[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a chain whose preferred backend is primary.
func NewTTSFallback(primary tts.Provider, name string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{newChain(primary, name, cfg)}
}

// AddFallback appends a backend that ignores the requested voice.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, ownVoice{p})
}

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (*tts.Speech, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns the first healthy backend's catalogue.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// ownVoice drops the requested voice so a fallback uses its default.
type ownVoice struct {
	tts.Provider
}

func (o ownVoice) Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	req.Voice = ""
	return o.Provider.Synthesize(ctx, req)
}
