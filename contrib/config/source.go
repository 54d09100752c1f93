package config

// KeyValue is one decoded unit handed back by a Source: either a whole
// file (Format set, Value holding the raw file bytes) or a single
// dot-path key (Format empty, Value holding the raw scalar bytes).
type KeyValue struct {
	Key    string
	Format string
	Value  []byte
}

// Source loads config data and optionally watches it for changes.
type Source interface {
	Load() ([]*KeyValue, error)
	Watch() (Watcher, error)
}

// Watcher streams successive KeyValue snapshots as the underlying
// source changes. Next blocks until the next change or Stop.
type Watcher interface {
	Next() ([]*KeyValue, error)
	Stop() error
}
