// Package store keeps the latest supervisor parameter values.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/opssat/sidloc"
)

// DefaultValue is reported for a subscribed parameter before its first value arrives.
const DefaultValue = "x"

// Entry is the latest value of a parameter and when it was observed.
// A default entry has a zero ObservedAt.
type Entry struct {
	Value      string
	ObservedAt time.Time
}

// Store maps parameter names to their latest Entry. The key set is fixed by
// New or Fix; lookups for other names fail with sidloc.ErrUnknownParameter.
type Store struct {
	mu      sync.Mutex
	names   []string
	known   map[string]struct{}
	entries map[string]Entry
}

func New(names ...string) *Store {
	s := &Store{entries: make(map[string]Entry)}
	s.Fix(names)
	return s
}

// Fix replaces the key set. Entries of names that remain are kept.
func (s *Store) Fix(names []string) {
	known := make(map[string]struct{}, len(names))
	ordered := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := known[n]; dup {
			continue
		}
		known[n] = struct{}{}
		ordered = append(ordered, n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := range s.entries {
		if _, ok := known[n]; !ok {
			delete(s.entries, n)
		}
	}
	s.names = ordered
	s.known = known
}

// Names returns the fixed key set in subscription order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// Set records value for name, observed at at.
func (s *Store) Set(name, value string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.known[name]; !ok {
		return fmt.Errorf("%w: %s", sidloc.ErrUnknownParameter, name)
	}
	s.entries[name] = Entry{Value: value, ObservedAt: at}
	return nil
}

// Lookup returns the entry of name, synthesizing the default if nothing arrived yet.
func (s *Store) Lookup(name string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.known[name]; !ok {
		return Entry{}, fmt.Errorf("%w: %s", sidloc.ErrUnknownParameter, name)
	}
	return s.entryLocked(name), nil
}

// Snapshot returns a point-in-time copy of every value.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.names))
	for _, n := range s.names {
		out[n] = s.entryLocked(n).Value
	}
	return out
}

// Entries is Snapshot with timestamps.
func (s *Store) Entries() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.names))
	for _, n := range s.names {
		out[n] = s.entryLocked(n)
	}
	return out
}

func (s *Store) entryLocked(name string) Entry {
	e, ok := s.entries[name]
	if !ok {
		e = Entry{Value: DefaultValue}
		s.entries[name] = e
	}
	return e
}
