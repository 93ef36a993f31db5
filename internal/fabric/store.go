// Package fabric is the shared state layer every agent observes the
// system through: a keyed store with hash, list, scalar, atomic-increment
// and TTL operations, plus the simulation's key families and the
// visibility-based intent router layered on top.
package fabric

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the keyed-store contract the simulation needs. Any backend
// offering hash set/get, ordered list append/range/delete, scalar
// set/get, atomic float increment and per-key TTL satisfies it.
type Store interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string) ([]string, error)
	Del(ctx context.Context, key string) error
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	FlushAll(ctx context.Context) error
}

type memEntry struct {
	str       string
	hash      map[string]string
	list      []string
	expiresAt time.Time // zero = no expiry
}

// MemStore is the in-process Store used for simulation runs. All
// operations are safe for concurrent use; list reads return values in
// insertion order.
type MemStore struct {
	mu   sync.Mutex
	data map[string]*memEntry
	now  func() time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]*memEntry), now: time.Now}
}

// SetClock overrides the store's time source (TTL tests).
func (m *MemStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// entry returns the live entry for key, discarding it first if expired.
// Caller must hold mu.
func (m *MemStore) entry(key string, create bool) *memEntry {
	e, ok := m.data[key]
	if ok && !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.data, key)
		ok = false
	}
	if !ok && create {
		e = &memEntry{}
		m.data[key] = e
	} else if !ok {
		return nil
	}
	return e
}

func (m *MemStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key, true)
	e.str = value
	return nil
}

func (m *MemStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key, false)
	if e == nil || (e.str == "" && e.hash == nil && e.list == nil) {
		return "", false, nil
	}
	return e.str, true, nil
}

func (m *MemStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key, true)
	if e.hash == nil {
		e.hash = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

func (m *MemStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key, false)
	if e == nil || e.hash == nil {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(e.hash))
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

func (m *MemStore) RPush(ctx context.Context, key string, values ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key, true)
	e.list = append(e.list, values...)
	return nil
}

func (m *MemStore) LRange(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key, false)
	if e == nil {
		return nil, nil
	}
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out, nil
}

func (m *MemStore) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemStore) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key, true)
	cur := parseFloat(e.str)
	cur += delta
	e.str = formatFloat(cur)
	return cur, nil
}

func (m *MemStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entry(key, false); e != nil {
		e.expiresAt = m.now().Add(ttl)
	}
	return nil
}

func (m *MemStore) FlushAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*memEntry)
	return nil
}

// Keys returns all live keys in sorted order (debugging / tests).
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		if e := m.entry(k, false); e != nil {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
