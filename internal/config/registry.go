package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/correctnow/correctnow/pkg/provider/llm"
)

// ErrProviderNotRegistered means no factory answers to a providers.*.name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds a language model from its config entry.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// Registry maps the provider names used in the config file to factories.
// Names are matched case-insensitively and may have aliases, so that
// "Claude" and "anthropic" reach the same backend. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]LLMFactory
	aliases   map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]LLMFactory),
		aliases:   make(map[string]string),
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterLLM registers factory under name, replacing any earlier one.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = factory
}

// Alias makes alias resolve to the provider registered as name. The target
// need not be registered yet.
func (r *Registry) Alias(alias, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[normalize(alias)] = normalize(name)
}

// Resolve returns the canonical provider name for name and whether a
// factory is registered under it.
func (r *Registry) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(name)
}

func (r *Registry) resolveLocked(name string) (string, bool) {
	key := normalize(name)
	if target, ok := r.aliases[key]; ok {
		key = target
	}
	_, ok := r.factories[key]
	return key, ok
}

// CreateLLM builds the provider for entry. The factory sees entry.Name in
// its canonical form.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	key, ok := r.resolveLocked(entry.Name)
	factory := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}

	entry.Name = key
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create llm/%s: %w", key, err)
	}
	return p, nil
}

// LLMNames returns the canonical provider names, sorted. Aliases are not
// listed.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
