package store

// Store is an opaque string-keyed blob store. It backs the session
// collection as well as runtime settings (API keys, token limit, custom
// model entries), each under its own key.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}
