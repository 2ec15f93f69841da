package descriptor

import (
	"sync"

	"notification-engine/internal/common/errors"
)

// ScalarKey is the key the built-in pass-through descriptor registers under.
const ScalarKey = "scalar"

// Registry maps descriptor keys to descriptors. Populated at startup;
// resolving an unknown key is a configuration mismatch, not a crash.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
}

func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Descriptor)}
	r.Register(ScalarKey, ScalarDescriptor{})
	return r
}

func (r *Registry) Register(key string, d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = d
}

func (r *Registry) Get(key string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[key]
	if !ok {
		return nil, errors.NewUnknownDescriptorError(key)
	}
	return d, nil
}

// Serialize resolves key and serializes value through it.
func (r *Registry) Serialize(key string, value interface{}) (interface{}, error) {
	d, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	return d.Serialize(value)
}

// Schema returns the per-audience field catalog for a registered descriptor.
func (r *Registry) Schema(key string, aud Audience) ([]FieldSpec, error) {
	d, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	return d.Fields(aud), nil
}
