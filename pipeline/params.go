package pipeline

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/beamline/viewscreen/ndarray"
)

// Parameters every driver publishes.
const (
	ParamConfigurationFile   = "CONFIGURATION_FILE"
	ParamConfigurationStatus = "CONFIGURATION_STATUS"
)

// ChangeFunc observes a parameter update.
type ChangeFunc func(name string, value interface{})

// WriteHandler reacts to an external write of a parameter. Its error is returned to the
// writer.
type WriteHandler func(value interface{}) error

// ParamStore is a driver's key/value parameter table. Internal updates use Set; writes
// coming from outside the driver use Write, which also runs the handler registered for the
// parameter.
type ParamStore struct {
	mu       sync.RWMutex
	values   map[string]interface{}
	handlers map[string]WriteHandler
	watchers []ChangeFunc
}

// NewParamStore returns an empty store.
func NewParamStore() *ParamStore {
	return &ParamStore{values: map[string]interface{}{}, handlers: map[string]WriteHandler{}}
}

// Set stores a value and notifies watchers.
func (p *ParamStore) Set(name string, value interface{}) {
	p.mu.Lock()
	p.values[name] = value
	watchers := append([]ChangeFunc(nil), p.watchers...)
	p.mu.Unlock()

	for _, w := range watchers {
		w(name, value)
	}
}

// Write stores a value on behalf of an external writer and runs the parameter's write
// handler, if any.
func (p *ParamStore) Write(name string, value interface{}) error {
	p.Set(name, value)
	p.mu.RLock()
	handler := p.handlers[name]
	p.mu.RUnlock()
	if handler == nil {
		return nil
	}
	return handler(value)
}

// HandleWrite registers the handler for external writes of name.
func (p *ParamStore) HandleWrite(name string, handler WriteHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = handler
}

// Watch registers a function called after every update. Watchers run synchronously, possibly
// while the owning driver holds its lock, and must not call back into the driver.
func (p *ParamStore) Watch(f ChangeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchers = append(p.watchers, f)
}

// Get returns a parameter value.
func (p *ParamStore) Get(name string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[name]
	return v, ok
}

// Float returns a parameter as a float64.
func (p *ParamStore) Float(name string) (float64, error) {
	v, ok := p.Get(name)
	if !ok {
		return 0, errors.Errorf("parameter %s is not set", name)
	}
	f, err := cast.ToFloat64E(v)
	return f, errors.Wrapf(err, "parameter %s", name)
}

// Int returns a parameter as an int.
func (p *ParamStore) Int(name string) (int, error) {
	v, ok := p.Get(name)
	if !ok {
		return 0, errors.Errorf("parameter %s is not set", name)
	}
	i, err := cast.ToIntE(v)
	return i, errors.Wrapf(err, "parameter %s", name)
}

// String returns a parameter as a string, or "" when unset.
func (p *ParamStore) String(name string) string {
	v, ok := p.Get(name)
	if !ok {
		return ""
	}
	return cast.ToString(v)
}

// Names returns every parameter name, sorted.
func (p *ParamStore) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AttachTo copies every parameter onto a frame's attributes.
func (p *ParamStore) AttachTo(attrs *ndarray.AttributeList) {
	for _, name := range p.Names() {
		if v, ok := p.Get(name); ok {
			attrs.Add(name, "", v)
		}
	}
}
