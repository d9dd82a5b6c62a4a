package strategy

import (
	"sort"
	"sync"

	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// Factory builds a strategy instance from a YAML configuration document. An
// empty document selects the strategy defaults.
type Factory func(config string) (Strategy, error)

// Registry maps strategy names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in strategies registered.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
	}

	r.Register(SMACrossoverName, NewSMACrossoverFromConfig)
	r.Register(MomentumName, NewMomentumFromConfig)
	r.Register(MeanReversionName, NewMeanReversionFromConfig)

	return r
}

// Register adds a factory under the given name, replacing any previous entry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
}

// Create builds a validated strategy instance by name.
func (r *Registry) Create(name, config string) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrCodeStrategyNotRegistered, "strategy %q is not registered", name)
	}

	s, err := factory(config)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStrategyConfigError, err, "failed to configure strategy %q", name)
	}

	if err := s.Validate(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStrategyConfigError, err, "invalid parameters for strategy %q", name)
	}

	return s, nil
}

// Names returns the registered strategy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
