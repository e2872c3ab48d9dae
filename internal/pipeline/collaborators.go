package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/babelvox/pkg/provider/llm"
	"github.com/MrWong99/babelvox/pkg/provider/tts"
)

// Translator converts text between languages. Implementations return the
// translation only, without commentary.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Phoneticizer produces a short pronunciation guide for text in language.
type Phoneticizer interface {
	Phonetic(ctx context.Context, text, language string) (string, error)
}

// Synthesizer produces speech for text. [tts.Provider] satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error)
}

// errEmptyReply is returned when the model answers with whitespace only.
var errEmptyReply = errors.New("pipeline: empty model reply")

const translatePrompt = `You are a translation engine. Translate the user's message from %s to %s.
Reply with the translated text only. Do not add quotes, notes, explanations or the original text.`

const phoneticPrompt = `Write a pronunciation guide for the user's %s text for an English speaker.
Use simple readable romanization: syllables separated by hyphens, stressed syllables in capitals, words separated by spaces.
Reply with the guide only.`

// LLMTranslator is a [Translator] backed by a completion model.
type LLMTranslator struct {
	Provider    llm.Provider
	Temperature float64
}

// NewLLMTranslator returns a translator over p.
func NewLLMTranslator(p llm.Provider) *LLMTranslator {
	return &LLMTranslator{Provider: p, Temperature: 0.2}
}

// Translate implements [Translator].
func (t *LLMTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	return complete(ctx, t.Provider, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(translatePrompt, source, target),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  t.Temperature,
	})
}

// LLMPhoneticizer is a [Phoneticizer] backed by a completion model.
type LLMPhoneticizer struct {
	Provider    llm.Provider
	Temperature float64
}

// NewLLMPhoneticizer returns a phoneticizer over p.
func NewLLMPhoneticizer(p llm.Provider) *LLMPhoneticizer {
	return &LLMPhoneticizer{Provider: p, Temperature: 0.2}
}

// Phonetic implements [Phoneticizer].
func (p *LLMPhoneticizer) Phonetic(ctx context.Context, text, language string) (string, error) {
	return complete(ctx, p.Provider, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(phoneticPrompt, language),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  p.Temperature,
	})
}

func complete(ctx context.Context, p llm.Provider, req llm.CompletionRequest) (string, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errEmptyReply
	}
	if resp.FinishReason == llm.FinishLength {
		return "", llm.ErrTruncated
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", errEmptyReply
	}
	return out, nil
}

var (
	_ Translator   = (*LLMTranslator)(nil)
	_ Phoneticizer = (*LLMPhoneticizer)(nil)
	_ Synthesizer  = (tts.Provider)(nil)
)
