package cache

import (
	"sync"
	"time"
)

// Entry is a single memoized value with its TTL and access bookkeeping.
type Entry struct {
	Key            string        `json:"key"`
	Data           any           `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	TTL            time.Duration `json:"ttl"`
	AccessCount    int64         `json:"access_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
}

// Live reports whether the entry is still valid at now.
// The boundary instant CreatedAt+TTL is still live.
func (e *Entry) Live(now time.Time) bool {
	return !now.After(e.CreatedAt.Add(e.TTL))
}

// Stats represents cache statistics.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Sets        uint64 `json:"sets"`
	Evictions   uint64 `json:"evictions"`   // capacity evictions
	Expirations uint64 `json:"expirations"` // entries dropped for TTL
	Items       int    `json:"items"`
	MaxEntries  int    `json:"max_entries"`
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// RemovalReason says why an entry left the store.
type RemovalReason string

const (
	RemovedCapacity RemovalReason = "capacity"
	RemovedExpired  RemovalReason = "expired"
)

// Store is a bounded in-memory map from key to Entry.
//
// Expiry is lazy on Get; EvictExpired performs a full sweep for maintenance.
// When a new key would exceed maxEntries, one victim is evicted first: the entry
// with the fewest accesses, ties broken by the oldest LastAccessedAt.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	onRemove   func(key string, reason RemovalReason)
	stats      Stats
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now; used by tests to step through TTL boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRemovalHook registers fn to be called after an entry is evicted or expires.
// fn runs outside the store lock.
func WithRemovalHook(fn func(key string, reason RemovalReason)) Option {
	return func(s *Store) { s.onRemove = fn }
}

// New creates a store bounded by maxEntries. maxEntries < 1 is treated as 1.
func New(maxEntries int, defaultTTL time.Duration, opts ...Option) *Store {
	if maxEntries < 1 {
		maxEntries = 1
	}
	s := &Store{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the live value for key. A non-live entry is deleted and reported as a miss.
func (s *Store) Get(key string) (any, bool) {
	return s.GetIf(key, nil)
}

// GetIf is Get for callers that can only use some values. A live entry that
// accept rejects is reported as a miss and its access bookkeeping is left
// untouched. A nil accept takes every value.
func (s *Store) GetIf(key string, accept func(any) bool) (any, bool) {
	s.mu.Lock()
	now := s.now()
	e, found := s.entries[key]
	if !found {
		s.stats.Misses++
		s.mu.Unlock()
		return nil, false
	}
	if !e.Live(now) {
		delete(s.entries, key)
		s.stats.Misses++
		s.stats.Expirations++
		s.mu.Unlock()
		s.notify([]string{key}, RemovedExpired)
		return nil, false
	}
	if accept != nil && !accept(e.Data) {
		s.stats.Misses++
		s.mu.Unlock()
		return nil, false
	}
	e.AccessCount++
	e.LastAccessedAt = now
	s.stats.Hits++
	data := e.Data
	s.mu.Unlock()
	return data, true
}

// Set inserts or replaces key. ttl <= 0 uses the store default.
func (s *Store) Set(key string, data any, ttl time.Duration) {
	s.mu.Lock()
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.now()

	var evicted []string
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		if victim, ok := s.selectVictim(); ok {
			delete(s.entries, victim)
			s.stats.Evictions++
			evicted = append(evicted, victim)
		}
	}

	s.entries[key] = &Entry{
		Key:            key,
		Data:           data,
		CreatedAt:      now,
		TTL:            ttl,
		AccessCount:    1,
		LastAccessedAt: now,
	}
	s.stats.Sets++
	s.mu.Unlock()

	s.notify(evicted, RemovedCapacity)
}

// Delete removes key if present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Clear removes every entry and resets statistics.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.stats = Stats{}
	s.mu.Unlock()
}

// Len returns the current number of entries, live or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SetDefaultTTL changes the TTL applied to subsequent Set calls without an explicit TTL.
func (s *Store) SetDefaultTTL(ttl time.Duration) {
	s.mu.Lock()
	s.defaultTTL = ttl
	s.mu.Unlock()
}

// Stats returns a snapshot of the store statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Items = len(s.entries)
	st.MaxEntries = s.maxEntries
	return st
}

// Snapshot returns copies of all entries; Data is shared, not cloned.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

func (s *Store) notify(keys []string, reason RemovalReason) {
	if s.onRemove == nil {
		return
	}
	for _, k := range keys {
		s.onRemove(k, reason)
	}
}
