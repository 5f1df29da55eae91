// Package cache memoizes assembled bundles keyed by target and guarded by a
// fingerprint of the contributing records' update timestamps.
package cache

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Fingerprint is an ordered list of update stamps (unix nanoseconds) for the
// records that contributed to a cached value. Absent records stamp as 0.
type Fingerprint struct {
	Stamps []int64 `json:"stamps"`
}

// NewFingerprint builds a fingerprint from timestamps. Zero times stamp as 0.
func NewFingerprint(times ...time.Time) Fingerprint {
	stamps := make([]int64, len(times))
	for i, t := range times {
		if !t.IsZero() {
			stamps[i] = t.UnixNano()
		}
	}
	return Fingerprint{Stamps: stamps}
}

// Key renders the fingerprint as a stable string.
func (f Fingerprint) Key() string {
	parts := make([]string, len(f.Stamps))
	for i, s := range f.Stamps {
		parts[i] = strconv.FormatInt(s, 10)
	}
	return strings.Join(parts, ".")
}

// Equal reports whether both fingerprints carry the same stamps.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if len(f.Stamps) != len(o.Stamps) {
		return false
	}
	for i := range f.Stamps {
		if f.Stamps[i] != o.Stamps[i] {
			return false
		}
	}
	return true
}

// Older reports whether f is dominated by o: same shape, no stamp newer, and
// at least one stamp strictly older.
func (f Fingerprint) Older(o Fingerprint) bool {
	if len(f.Stamps) != len(o.Stamps) {
		return false
	}
	older := false
	for i := range f.Stamps {
		switch {
		case f.Stamps[i] > o.Stamps[i]:
			return false
		case f.Stamps[i] < o.Stamps[i]:
			older = true
		}
	}
	return older
}

// Entry is a cached value with the fingerprint it was built under.
type Entry[V any] struct {
	Value       V           `json:"value"`
	Fingerprint Fingerprint `json:"fingerprint"`
	StoredAt    time.Time   `json:"stored_at"`
}

// Cache stores values by key. Implementations must be safe for concurrent use.
type Cache[V any] interface {
	// Get returns the entry for key. Expired entries are reported as misses.
	Get(ctx context.Context, key string) (Entry[V], bool, error)

	// Put stores value under key unless the existing entry was built from a
	// strictly newer fingerprint.
	Put(ctx context.Context, key string, fp Fingerprint, value V) error

	// Invalidate drops key.
	Invalidate(ctx context.Context, key string) error

	// Purge drops every entry and returns how many were removed.
	Purge(ctx context.Context) (int, error)
}

// Outcome describes how GetOrBuild produced its value.
type Outcome struct {
	Hit bool

	// Err is a cache backend failure that was tolerated by rebuilding or by
	// skipping the write. It never hides a build error.
	Err error
}

// GetOrBuild returns the cached value for key when its fingerprint equals fp.
// Otherwise it calls build, stores the result, and returns it. A stale entry
// is dropped when the rebuild fails. A failing backend degrades to building
// on every call.
func GetOrBuild[V any](ctx context.Context, c Cache[V], key string, fp Fingerprint, build func(context.Context) (V, error)) (V, Outcome, error) {
	var out Outcome

	entry, ok, err := c.Get(ctx, key)
	if err != nil {
		out.Err = err
	} else if ok && entry.Fingerprint.Equal(fp) {
		out.Hit = true
		return entry.Value, out, nil
	}
	stale := ok && err == nil

	v, err := build(ctx)
	if err != nil {
		if stale {
			// Best effort; the build error is what the caller needs.
			_ = c.Invalidate(ctx, key)
		}
		var zero V
		return zero, out, err
	}

	if err := c.Put(ctx, key, fp, v); err != nil && out.Err == nil {
		out.Err = err
	}
	return v, out, nil
}
