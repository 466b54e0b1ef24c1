// Package dedupe tracks test ids already scheduled for fetching so each test
// is fetched at most once per run.
package dedupe

import (
	"context"
	"sync"
)

// Deduper records seen ids.
type Deduper interface {
	// SeenAndRecord reports whether id was already seen and records it if not.
	SeenAndRecord(ctx context.Context, id string) bool
	Size() int
}

type inMemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewInMemoryDeduper creates an unbounded deduper for one run.
func NewInMemoryDeduper() Deduper {
	return &inMemoryDeduper{seen: make(map[string]struct{})}
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Unique returns ids with repeats removed, first occurrence kept, in order.
// Ids already recorded in d are dropped too.
func Unique(ctx context.Context, d Deduper, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !d.SeenAndRecord(ctx, id) {
			out = append(out, id)
		}
	}
	return out
}
