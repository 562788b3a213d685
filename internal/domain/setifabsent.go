package domain

// SetIfAbsent writes value under key only when the key is not yet present.
// Reports whether the write happened. This is the single "first observation
// wins" primitive: a later, lower-quality observation can never overwrite an
// earlier one.
func SetIfAbsent[K comparable, V any](m map[K]V, key K, value V) bool {
	if _, ok := m[key]; ok {
		return false
	}
	m[key] = value
	return true
}
