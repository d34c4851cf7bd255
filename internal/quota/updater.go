package quota

// Updater describes a write to a Table: either a full replacement or a
// function of the previous table.
type Updater[P any] struct {
	replace   Table[P]
	transform func(Table[P]) Table[P]
	isReplace bool
}

// Replace returns an updater that swaps in next.
func Replace[P any](next Table[P]) Updater[P] {
	return Updater[P]{replace: next, isReplace: true}
}

// Transform returns an updater that computes the next table from the previous one.
func Transform[P any](fn func(prev Table[P]) Table[P]) Updater[P] {
	return Updater[P]{transform: fn}
}

// Set is a Transform that sets a single key.
func Set[P any](key string, s Status[P]) Updater[P] {
	return Transform(func(prev Table[P]) Table[P] {
		prev[key] = s
		return prev
	})
}

// Apply resolves the updater against prev. prev is never mutated; the result is never nil.
func (u Updater[P]) Apply(prev Table[P]) Table[P] {
	if u.isReplace {
		return u.replace.Clone()
	}
	if u.transform == nil {
		return prev.Clone()
	}
	next := u.transform(prev.Clone())
	if next == nil {
		return Table[P]{}
	}
	return next
}
