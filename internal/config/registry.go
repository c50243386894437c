package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/moshi-chat/moshi/pkg/provider/embeddings"
	"github.com/moshi-chat/moshi/pkg/provider/llm"
	"github.com/moshi-chat/moshi/pkg/provider/stt"
	"github.com/moshi-chat/moshi/pkg/provider/translate"
	"github.com/moshi-chat/moshi/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factoryTable holds the named constructors for one pipeline stage. Maps
// are created lazily so the zero value is usable.
type factoryTable[T any] struct {
	mu     sync.RWMutex
	kind   string
	byName map[string]func(ProviderEntry) (T, error)
}

func (ft *factoryTable[T]) register(name string, factory func(ProviderEntry) (T, error)) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.byName == nil {
		ft.byName = make(map[string]func(ProviderEntry) (T, error))
	}
	ft.byName[name] = factory
}

func (ft *factoryTable[T]) create(entry ProviderEntry) (T, error) {
	ft.mu.RLock()
	factory, ok := ft.byName[entry.Name]
	ft.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, ft.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use. Registering a name twice
// overwrites the earlier factory.
type Registry struct {
	llm        factoryTable[llm.Provider]
	stt        factoryTable[stt.Provider]
	tts        factoryTable[tts.Provider]
	translate  factoryTable[translate.Provider]
	embeddings factoryTable[embeddings.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        factoryTable[llm.Provider]{kind: "llm"},
		stt:        factoryTable[stt.Provider]{kind: "stt"},
		tts:        factoryTable[tts.Provider]{kind: "tts"},
		translate:  factoryTable[translate.Provider]{kind: "translate"},
		embeddings: factoryTable[embeddings.Provider]{kind: "embeddings"},
	}
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterSTT registers a speech-to-text provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.stt.register(name, factory)
}

// RegisterTTS registers a text-to-speech provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.tts.register(name, factory)
}

// RegisterTranslate registers a translation provider factory under name.
func (r *Registry) RegisterTranslate(name string, factory func(ProviderEntry) (translate.Provider, error)) {
	r.translate.register(name, factory)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, factory)
}

// CreateLLM instantiates an LLM provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name; the other Create methods behave the same way.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateSTT instantiates a speech-to-text provider.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(entry)
}

// CreateTTS instantiates a text-to-speech provider.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(entry)
}

// CreateTranslate instantiates a translation provider.
func (r *Registry) CreateTranslate(entry ProviderEntry) (translate.Provider, error) {
	return r.translate.create(entry)
}

// CreateEmbeddings instantiates an embeddings provider.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}
