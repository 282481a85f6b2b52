// Package dedupe tracks recently accepted event ids so client retries of
// POST /events are not appended twice.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMaxSize = 50000

// Deduper records seen event ids.
type Deduper interface {
	// SeenAndRecord reports whether id was already seen and records it if not.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed append can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps the most recent ids in a bounded LRU. Entries older
// than ttl are forgotten when ttl is positive.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    *expirable.LRU[string, struct{}]
	maxSize int
	ttl     time.Duration
}

// NewInMemoryDeduper creates a deduper. maxSize <= 0 falls back to the default.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxSize <= 0 {
		d.maxSize = defaultMaxSize
	}
	d.seen = expirable.NewLRU[string, struct{}](d.maxSize, nil, d.ttl)
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen.Contains(id) {
		return true
	}
	d.seen.Add(id, struct{}{})
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(id)
}

func (d *inMemoryDeduper) Size() int64 {
	return int64(d.seen.Len())
}
