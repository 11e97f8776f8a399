package db

// --------------------------------------------------------------------------
// Typed Helpers
// --------------------------------------------------------------------------

// kindOf returns the kind of T. Entity implementations return a constant
// from Kind, so calling it on the zero value is safe.
func kindOf[T Entity]() Kind {
	var zero T
	return zero.Kind()
}

// All returns a snapshot of all entities of type T.
//
//	jobs := db.All[*db.Job](d)
func All[T Entity](d *DB) []T {
	return Find(d, func(T) bool { return true })
}

// Find returns all entities of type T matching pred.
func Find[T Entity](d *DB, pred func(T) bool) []T {
	var out []T
	d.Range(kindOf[T](), func(e Entity) bool {
		if t, ok := e.(T); ok && pred(t) {
			out = append(out, t)
		}
		return true
	})
	return out
}

// GetAs returns the entity of type T stored under key.
func GetAs[T Entity](d *DB, key Key) (T, bool) {
	e, ok := d.Get(kindOf[T](), key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := e.(T)
	return t, ok
}

// GetNamedAs returns the entity of type T with the given natural key.
func GetNamedAs[T NamedEntity](d *DB, naturalKey string) (T, bool) {
	e, ok := d.GetNamed(kindOf[T](), naturalKey)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := e.(T)
	return t, ok
}
