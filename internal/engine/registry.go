package engine

import (
	"strings"

	"github.com/jmylchreest/ttshub/internal/apperr"
)

// DefaultEngine receives requests that name no engine.
const DefaultEngine = "kokoro"

// Registry holds the configured engines in presentation order.
type Registry struct {
	order   []string
	engines map[string]Engine
}

// NewRegistry builds a registry from engines in the given order.
// Duplicate ids keep the first registration.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		id := e.ID()
		if _, dup := r.engines[id]; dup {
			continue
		}
		r.engines[id] = e
		r.order = append(r.order, id)
	}
	return r
}

// Engines returns the engines in registration order.
func (r *Registry) Engines() []Engine {
	out := make([]Engine, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.engines[id])
	}
	return out
}

// Metas reports every engine descriptor in registration order.
func (r *Registry) Metas() []Meta {
	out := make([]Meta, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.engines[id].Meta())
	}
	return out
}

// Get returns the engine registered under the exact id.
func (r *Registry) Get(id string) (Engine, bool) {
	eng, ok := r.engines[id]
	return eng, ok
}

// Resolve looks up an engine from a client-supplied id. Empty ids fall
// back to the default engine and lookups are case-insensitive. Unknown
// ids are a bad request; a known engine that fails its availability
// probe is rejected unless allowUnavailable, in which case the caller
// gets the engine plus the probe outcome.
func (r *Registry) Resolve(id string, allowUnavailable bool) (Engine, bool, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	if key == "" {
		key = DefaultEngine
	}
	eng, ok := r.engines[key]
	if !ok {
		return nil, false, apperr.BadRequestf("Unknown TTS engine '%s'.", key)
	}
	available := eng.Available()
	if !available && !allowUnavailable {
		return nil, false, apperr.Unavailablef("TTS engine '%s' is not available.", key)
	}
	return eng, available, nil
}
