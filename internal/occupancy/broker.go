package occupancy

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// Broker is the key/value primitive the lock manager builds on. SetIfAbsent
// must be atomic: it is the only synchronization point for unit ownership.
type Broker interface {
	// SetIfAbsent creates key with a provisional ttl (0 = none) iff absent.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Persist removes any expiry from key; false when the key is gone.
	Persist(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) (int64, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryBroker is an in-process Broker for single-node deployments and tests.
// Failure hooks let callers simulate broker faults per operation.
type MemoryBroker struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time

	FailSetIfAbsent func(key string) error
	FailPersist     func(key string) error
	FailDelete      func(key string) error
	FailExists      func(key string) error
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{entries: map[string]memEntry{}, now: time.Now}
}

// SetClock overrides the clock used for provisional expiry.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBroker) liveLocked(key string) (memEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !b.now().Before(e.expiresAt) {
		delete(b.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (b *MemoryBroker) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailSetIfAbsent != nil {
		if err := b.FailSetIfAbsent(key); err != nil {
			return false, err
		}
	}
	if _, ok := b.liveLocked(key); ok {
		return false, nil
	}
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}
	b.entries[key] = e
	return true, nil
}

func (b *MemoryBroker) Persist(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailPersist != nil {
		if err := b.FailPersist(key); err != nil {
			return false, err
		}
	}
	e, ok := b.liveLocked(key)
	if !ok {
		return false, nil
	}
	e.expiresAt = time.Time{}
	b.entries[key] = e
	return true, nil
}

func (b *MemoryBroker) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailExists != nil {
		if err := b.FailExists(key); err != nil {
			return false, err
		}
	}
	_, ok := b.liveLocked(key)
	return ok, nil
}

func (b *MemoryBroker) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.liveLocked(key)
	return e.value, ok, nil
}

func (b *MemoryBroker) Delete(_ context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailDelete != nil {
		if err := b.FailDelete(key); err != nil {
			return 0, err
		}
	}
	if _, ok := b.liveLocked(key); !ok {
		return 0, nil
	}
	delete(b.entries, key)
	return 1, nil
}

// Scan supports glob patterns the way redis SCAN MATCH does for the simple
// prefix:* shapes the manager uses.
func (b *MemoryBroker) Scan(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k := range b.entries {
		if _, ok := b.liveLocked(k); !ok {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// TTL reports the remaining provisional expiry; 0 means the key never expires.
func (b *MemoryBroker) TTL(key string) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.liveLocked(key)
	if !ok {
		return 0, false
	}
	if e.expiresAt.IsZero() {
		return 0, true
	}
	return e.expiresAt.Sub(b.now()), true
}

// Len counts live keys.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k := range b.entries {
		if _, ok := b.liveLocked(k); ok {
			n++
		}
	}
	return n
}
