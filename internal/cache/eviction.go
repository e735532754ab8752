package cache

// selectVictim picks the entry with the smallest AccessCount, breaking ties by the
// oldest LastAccessedAt. Caller must hold s.mu.
func (s *Store) selectVictim() (string, bool) {
	var victim *Entry
	for _, e := range s.entries {
		if victim == nil ||
			e.AccessCount < victim.AccessCount ||
			(e.AccessCount == victim.AccessCount && e.LastAccessedAt.Before(victim.LastAccessedAt)) {
			victim = e
		}
	}
	if victim == nil {
		return "", false
	}
	return victim.Key, true
}

// EvictExpired deletes every entry that is no longer live and returns how many were removed.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	now := s.now()
	var expired []string
	for key, e := range s.entries {
		if !e.Live(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(s.entries, key)
	}
	s.stats.Expirations += uint64(len(expired))
	s.mu.Unlock()

	s.notify(expired, RemovedExpired)
	return len(expired)
}

// Resize changes the capacity bound, evicting with the normal policy until the
// store fits. It returns the number of entries evicted.
func (s *Store) Resize(maxEntries int) int {
	if maxEntries < 1 {
		maxEntries = 1
	}
	s.mu.Lock()
	s.maxEntries = maxEntries
	var evicted []string
	for len(s.entries) > s.maxEntries {
		victim, ok := s.selectVictim()
		if !ok {
			break
		}
		delete(s.entries, victim)
		s.stats.Evictions++
		evicted = append(evicted, victim)
	}
	s.mu.Unlock()

	s.notify(evicted, RemovedCapacity)
	return len(evicted)
}
