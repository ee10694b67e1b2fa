package ndarray

import (
	"sort"
	"sync"
)

// Attribute is a named value attached to a frame.
type Attribute struct {
	Name        string
	Description string
	Value       interface{}
}

// AttributeList is an ordered, concurrency safe attribute bag. Adding an attribute whose
// name already exists replaces its value in place.
type AttributeList struct {
	mu    sync.RWMutex
	attrs []Attribute
	index map[string]int
}

// NewAttributeList returns an empty list.
func NewAttributeList() *AttributeList {
	return &AttributeList{index: map[string]int{}}
}

// Add sets an attribute.
func (l *AttributeList) Add(name, description string, value interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.index[name]; ok {
		l.attrs[i] = Attribute{Name: name, Description: description, Value: value}
		return
	}
	l.index[name] = len(l.attrs)
	l.attrs = append(l.attrs, Attribute{Name: name, Description: description, Value: value})
}

// Find looks an attribute up by name.
func (l *AttributeList) Find(name string) (Attribute, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[name]
	if !ok {
		return Attribute{}, false
	}
	return l.attrs[i], true
}

// Len returns the number of attributes.
func (l *AttributeList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.attrs)
}

// List returns a copy of the attributes in insertion order.
func (l *AttributeList) List() []Attribute {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Attribute, len(l.attrs))
	copy(out, l.attrs)
	return out
}

// Names returns the sorted attribute names.
func (l *AttributeList) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.attrs))
	for _, a := range l.attrs {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}

// CopyTo adds every attribute of l to dst.
func (l *AttributeList) CopyTo(dst *AttributeList) {
	for _, a := range l.List() {
		dst.Add(a.Name, a.Description, a.Value)
	}
}

// Clear removes every attribute.
func (l *AttributeList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attrs = nil
	l.index = map[string]int{}
}
