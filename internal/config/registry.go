package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/babelvox/pkg/provider/llm"
	"github.com/MrWong99/babelvox/pkg/provider/stt"
	"github.com/MrWong99/babelvox/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the entry's name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Provider kinds, as used in config paths and [Registry.Names].
const (
	KindLLM = "llm"
	KindSTT = "stt"
	KindTTS = "tts"
)

// factories is the name-to-constructor table of one provider kind.
type factories[T any] map[string]func(ProviderEntry) (T, error)

// Registry maps provider names to constructors. It is safe for concurrent
// use; registering a name again replaces the earlier factory.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{},
		stt: factories[stt.Provider]{},
		tts: factories[tts.Provider]{},
	}
}

// RegisterLLM registers an LLM factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	register(r, r.llm, name, factory)
}

// RegisterSTT registers an STT factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	register(r, r.stt, name, factory)
}

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	register(r, r.tts, name, factory)
}

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, KindLLM, entry)
}

// CreateSTT builds the STT provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, KindSTT, entry)
}

// CreateTTS builds the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, KindTTS, entry)
}

// Names returns the registered names of kind, sorted. An unknown kind has
// none.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindLLM:
		return r.llm.names()
	case KindSTT:
		return r.stt.names()
	case KindTTS:
		return r.tts.names()
	}
	return nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f))
	for name := range f {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func register[T any](r *Registry, f factories[T], name string, factory func(ProviderEntry) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f[name] = factory
}

// create looks up and runs the factory for entry. Factory errors are wrapped
// with the kind and name so a failing fallback is identifiable.
func create[T any](r *Registry, f factories[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := f[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%s: %w", kind, entry.Name, err)
	}
	return p, nil
}
