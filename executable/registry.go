package executable

import (
	"fmt"
	"maps"
	"slices"
)

// Registry resolves executables by name. It is immutable after construction
// and safe for concurrent lookups.
type Registry struct {
	index map[string]Executable
	names []string
}

// NewRegistry indexes execs by name. A nil entry, an empty name, or a name
// repeated within execs is a configuration error.
func NewRegistry(execs ...Executable) (*Registry, error) {
	index := make(map[string]Executable, len(execs))
	for i, e := range execs {
		if e == nil {
			return nil, fmt.Errorf("new registry: index=%d: %w", i, ErrNilExecutable)
		}
		name := e.Name()
		if name == "" {
			return nil, fmt.Errorf("new registry: index=%d: %w", i, ErrNameEmpty)
		}
		if _, exists := index[name]; exists {
			return nil, fmt.Errorf("new registry: name=%q: %w", name, ErrDuplicateName)
		}
		index[name] = e
	}
	return newRegistry(index), nil
}

// MustRegistry is NewRegistry for static wiring that cannot fail at run time.
func MustRegistry(execs ...Executable) *Registry {
	registry, err := NewRegistry(execs...)
	if err != nil {
		panic(err)
	}
	return registry
}

// Merge flattens registries into one index. When two sources define the same
// name, the later source wins. Nil registries are ignored.
func Merge(registries ...*Registry) *Registry {
	index := map[string]Executable{}
	for _, registry := range registries {
		if registry == nil {
			continue
		}
		maps.Copy(index, registry.index)
	}
	return newRegistry(index)
}

func newRegistry(index map[string]Executable) *Registry {
	return &Registry{
		index: index,
		names: slices.Sorted(maps.Keys(index)),
	}
}

// Get returns the executable registered under name.
func (r *Registry) Get(name string) (Executable, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.index[name]
	return e, ok
}

// List returns every executable ordered by name.
func (r *Registry) List() []Executable {
	if r == nil {
		return nil
	}
	out := make([]Executable, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.index[name])
	}
	return out
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.names)
}

// Infos returns presentation views ordered by name.
func (r *Registry) Infos() []Info {
	execs := r.List()
	out := make([]Info, len(execs))
	for i, e := range execs {
		out[i] = Describe(e)
	}
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.index)
}
