package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/embla/pkg/provider/stt"
	"github.com/MrWong99/embla/pkg/provider/tts"
	"github.com/MrWong99/embla/pkg/query"
)

// ErrProviderNotRegistered is returned when a [ProviderEntry] names a provider
// without a registered factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the name-to-factory table of one provider kind.
type factories[T any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]Factory[T]
}

func (f *factories[T]) register(name string, fn Factory[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = make(map[string]Factory[T])
	}
	f.m[name] = fn
}

func (f *factories[T]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.m))
}

func (f *factories[T]) create(e ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.m[e.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s provider %q (known: %s)",
			ErrProviderNotRegistered, f.kind, e.Name, strings.Join(f.names(), ", "))
	}
	v, err := fn(e)
	if err != nil {
		return v, fmt.Errorf("%s provider %q: %w", f.kind, e.Name, err)
	}
	return v, nil
}

// Registry turns provider entries of the config into live providers. The
// command registers the built-in providers at start-up; tests register
// stubs. It is safe for concurrent use.
type Registry struct {
	stt   factories[stt.Provider]
	tts   factories[tts.Provider]
	query factories[query.Client]
}

// NewRegistry returns a registry without any factories.
func NewRegistry() *Registry {
	r := &Registry{}
	r.stt.kind, r.tts.kind, r.query.kind = "stt", "tts", "query"
	return r
}

// RegisterSTT registers a recognizer factory, replacing any earlier one of
// the same name.
func (r *Registry) RegisterSTT(name string, fn Factory[stt.Provider]) { r.stt.register(name, fn) }

// RegisterTTS registers a synthesizer factory.
func (r *Registry) RegisterTTS(name string, fn Factory[tts.Provider]) { r.tts.register(name, fn) }

// RegisterQuery registers a query backend factory.
func (r *Registry) RegisterQuery(name string, fn Factory[query.Client]) { r.query.register(name, fn) }

// CreateSTT builds the recognizer e names.
func (r *Registry) CreateSTT(e ProviderEntry) (stt.Provider, error) { return r.stt.create(e) }

// CreateTTS builds the synthesizer e names.
func (r *Registry) CreateTTS(e ProviderEntry) (tts.Provider, error) { return r.tts.create(e) }

// CreateQuery builds the query backend e names.
func (r *Registry) CreateQuery(e ProviderEntry) (query.Client, error) { return r.query.create(e) }

// Names returns the sorted provider names registered for kind ("stt", "tts"
// or "query"), or nil for an unknown kind.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	case "query":
		return r.query.names()
	}
	return nil
}
