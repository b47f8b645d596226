package store

// Prefix constants for all store types
const (
	prefixDispersal byte = iota + 1
)

// makeKey creates a key from a prefix and an identifier
func makeKey(prefix byte, id []byte) []byte {
	key := make([]byte, 1+len(id))
	key[0] = prefix
	copy(key[1:], id)
	return key
}

// prefixRange returns the [start, end) bounds covering every key under prefix.
func prefixRange(prefix byte) ([]byte, []byte) {
	return []byte{prefix}, []byte{prefix + 1}
}
