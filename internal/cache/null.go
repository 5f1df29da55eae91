package cache

import "context"

// Null never stores anything. Every GetOrBuild rebuilds.
type Null[V any] struct{}

func (Null[V]) Get(context.Context, string) (Entry[V], bool, error) {
	return Entry[V]{}, false, nil
}

func (Null[V]) Put(context.Context, string, Fingerprint, V) error { return nil }

func (Null[V]) Invalidate(context.Context, string) error { return nil }

func (Null[V]) Purge(context.Context) (int, error) { return 0, nil }
