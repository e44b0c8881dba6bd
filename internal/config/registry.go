package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/earloop/internal/control"
	"github.com/MrWong99/earloop/pkg/audio"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: not registered")

// DeviceFactory builds an audio device from the audio section.
type DeviceFactory func(AudioConfig) (audio.Device, error)

// SourceFactory builds a control source from the controls section.
type SourceFactory func(ControlsConfig) (control.Source, error)

// Registry maps backend and control source names to their constructors.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceFactory
	sources map[string]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]DeviceFactory),
		sources: make(map[string]SourceFactory),
	}
}

// RegisterDevice registers an audio device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(name string, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// RegisterSource registers a control source factory under name.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// CreateDevice instantiates the audio device registered under cfg.Backend.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDevice(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio backend %q (known: %v)", ErrNotRegistered, cfg.Backend, r.Devices())
	}
	return factory(cfg)
}

// CreateSource instantiates the control source registered under cfg.Source.
func (r *Registry) CreateSource(cfg ControlsConfig) (control.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: control source %q (known: %v)", ErrNotRegistered, cfg.Source, r.Sources())
	}
	return factory(cfg)
}

// Devices returns the registered backend names, sorted.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.devices)
}

// Sources returns the registered control source names, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sources)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
