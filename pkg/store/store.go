// Package store implements the per-pipeline-run shared value store.
//
// The store accumulates bound parameter values and captured command outputs
// for one phase execution. It is insertion-ordered so that result snapshots
// list values in the order they were produced, and it is always passed
// explicitly through the binder, collector, and controller rather than held
// as process-wide state. A store is never shared between pipeline runs.
package store

// Store is an insertion-ordered string key/value mapping.
// It is not safe for concurrent use; a pipeline run owns its store
// exclusively and mutates it sequentially.
type Store struct {
	keys   []string
	values map[string]string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		values: make(map[string]string),
	}
}

// Set writes a value. Writing an existing id overwrites its value but keeps
// its original insertion position.
func (s *Store) Set(id, value string) {
	if _, ok := s.values[id]; !ok {
		s.keys = append(s.keys, id)
	}
	s.values[id] = value
}

// Get returns the value for id and whether it is present.
func (s *Store) Get(id string) (string, bool) {
	v, ok := s.values[id]
	return v, ok
}

// Has reports whether id is present.
func (s *Store) Has(id string) bool {
	_, ok := s.values[id]
	return ok
}

// Keys returns the ids in insertion order.
func (s *Store) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.keys)
}

// Snapshot returns a copy of the current contents. Mutating the returned map
// does not affect the store.
func (s *Store) Snapshot() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy of the store, preserving insertion order.
func (s *Store) Clone() *Store {
	c := New()
	for _, k := range s.keys {
		c.Set(k, s.values[k])
	}
	return c
}
