package portfolio

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// State is the persisted portion of the allocator: weights, enabled flags and
// performance scores keyed by strategy ID. The storage location is owned by
// the caller.
type State struct {
	Strategies []AllocationView `yaml:"strategies"`
}

// SaveState writes the current allocation state to a YAML file.
func (a *Allocator) SaveState(path string) error {
	state := State{Strategies: a.Snapshot()}

	data, err := yaml.Marshal(&state)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to encode portfolio state", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to write portfolio state", err)
	}

	return nil
}

// LoadState reads a YAML state file and applies the stored weights, enabled
// flags and scores to the matching strategies. Strategies present in the file
// but not in the allocator are ignored; allocations are renormalized after
// applying.
func (a *Allocator) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to read portfolio state", err)
	}

	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to decode portfolio state", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, stored := range state.Strategies {
		allocation, exists := a.strategies[stored.StrategyID]
		if !exists {
			continue
		}

		allocation.Allocation = stored.Allocation
		allocation.Enabled = stored.Enabled
		allocation.PerformanceScore = stored.PerformanceScore
	}

	a.normalizeLocked()

	return nil
}
