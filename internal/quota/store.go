package quota

import (
	"slices"
	"sync"
)

// Change describes one applied write.
type Change[P any] struct {
	Family Family
	Prev   Table[P]
	Next   Table[P]
	// Cleared is set when the change comes from ClearAll.
	Cleared bool
}

// ChangedKeys returns the account keys whose status differs between Prev and Next.
func (c Change[P]) ChangedKeys() []string {
	var keys []string
	for k, n := range c.Next {
		p, ok := c.Prev[k]
		if !ok || p.State != n.State || p.Seq != n.Seq || !p.UpdatedAt.Equal(n.UpdatedAt) {
			keys = append(keys, k)
		}
	}
	for k := range c.Prev {
		if _, ok := c.Next[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Store keeps one Table per provider family. Writes to a family are serialized.
type Store[P any] struct {
	tables   map[Family]Table[P]
	families []Family
	onChange []func(Change[P])
	mu       sync.RWMutex
	// writeMu serializes writers so change hooks observe writes in order.
	writeMu sync.Mutex
}

// NewStore creates a store for the given families.
func NewStore[P any](families ...Family) *Store[P] {
	s := &Store[P]{
		tables:   make(map[Family]Table[P], len(families)),
		families: slices.Clone(families),
	}
	for _, f := range families {
		s.tables[f] = Table[P]{}
	}
	return s
}

// Families returns the families this store tracks.
func (s *Store[P]) Families() []Family {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.families)
}

// OnChange registers fn to be called after every applied write.
// fn runs while writes are held and must not write to the store.
func (s *Store[P]) OnChange(fn func(Change[P])) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Read returns a snapshot of the family's table. Unknown families read as empty.
func (s *Store[P]) Read(family Family) Table[P] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[family].Clone()
}

// Get returns the status for one account key.
func (s *Store[P]) Get(family Family, key string) Status[P] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[family].Get(key)
}

// Write applies u to the family's table atomically and returns the new snapshot.
func (s *Store[P]) Write(family Family, u Updater[P]) Table[P] {
	next, _ := s.writeIf(family, func(prev Table[P]) (Table[P], bool) {
		return u.Apply(prev), true
	})
	return next
}

// writeIf applies fn and commits only when fn reports true.
func (s *Store[P]) writeIf(family Family, fn func(prev Table[P]) (Table[P], bool)) (Table[P], bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	prev, known := s.tables[family]
	if prev == nil {
		prev = Table[P]{}
	}
	next, ok := fn(prev.Clone())
	if !ok {
		s.mu.Unlock()
		return prev.Clone(), false
	}
	// fn may hand back a map its caller still holds.
	next = next.Clone()
	if next == nil {
		next = Table[P]{}
	}
	if !known {
		s.families = append(s.families, family)
	}
	s.tables[family] = next
	s.mu.Unlock()

	s.notify(Change[P]{Family: family, Prev: prev, Next: next.Clone()})
	return next.Clone(), true
}

// ClearAll empties every family's table.
func (s *Store[P]) ClearAll() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	changes := make([]Change[P], 0, len(s.families))
	for _, f := range s.families {
		changes = append(changes, Change[P]{Family: f, Prev: s.tables[f], Next: Table[P]{}, Cleared: true})
		s.tables[f] = Table[P]{}
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.notify(c)
	}
}

func (s *Store[P]) notify(c Change[P]) {
	for _, fn := range s.onChange {
		fn(c)
	}
}
