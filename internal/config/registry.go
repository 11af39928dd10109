package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxa/pkg/provider/stt"
	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Kind names a provider category.
type Kind string

const (
	KindSTT Kind = "stt"
	KindTTS Kind = "tts"
)

// Factory builds a provider from its configuration entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is the name → factory table for one provider kind.
type factories[P any] struct {
	kind   Kind
	byName map[string]Factory[P]
}

func newFactories[P any](kind Kind) factories[P] {
	return factories[P]{kind: kind, byName: make(map[string]Factory[P])}
}

func (f factories[P]) create(entry ProviderEntry) (P, error) {
	var zero P
	factory, ok := f.byName[entry.Name]
	if !ok {
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return zero, fmt.Errorf("config: create %s provider %q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

// Registry maps provider names to their factories. The speech platform's
// STT and TTS backends, including failover entries, are all built through
// it. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: newFactories[stt.Provider](KindSTT),
		tts: newFactories[tts.Provider](KindTTS),
	}
}

// RegisterSTT registers an STT provider factory under name, replacing any
// earlier registration.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.byName[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byName[name] = factory
}

// CreateSTT builds the STT provider named by entry.Name. It returns
// [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateTTS builds the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// Names returns the sorted provider names registered for kind.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindSTT:
		return slices.Sorted(maps.Keys(r.stt.byName))
	case KindTTS:
		return slices.Sorted(maps.Keys(r.tts.byName))
	}
	return nil
}
