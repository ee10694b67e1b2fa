package calibration

import (
	"go.uber.org/atomic"
)

// Mapper publishes the active calibration model. Readers take a snapshot with Model and use
// it for a whole frame so that a concurrent reconfiguration is never observed half applied.
type Mapper struct {
	model      atomic.Pointer[Model]
	generation atomic.Uint64
}

// NewMapper returns an unconfigured mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Model returns the active model, or nil when unconfigured.
func (m *Mapper) Model() *Model {
	return m.model.Load()
}

// Configured reports whether a model has been published.
func (m *Mapper) Configured() bool {
	return m.model.Load() != nil
}

// Generation increments every time a new model is published.
func (m *Mapper) Generation() uint64 {
	return m.generation.Load()
}

// Publish validates and installs a new model.
func (m *Mapper) Publish(model *Model) error {
	if err := model.Validate(); err != nil {
		return err
	}
	m.model.Store(model)
	m.generation.Inc()
	return nil
}

// Reset returns the mapper to the unconfigured state.
func (m *Mapper) Reset() {
	m.model.Store(nil)
	m.generation.Inc()
}

// Snapshot returns the active model or ErrUnconfigured.
func (m *Mapper) Snapshot() (*Model, error) {
	model := m.model.Load()
	if model == nil {
		return nil, NewUnconfiguredError("no calibration document has been loaded")
	}
	return model, nil
}
