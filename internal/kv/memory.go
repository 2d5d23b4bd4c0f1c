package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is a single-process Store for development and tests.
// Expired keys are hidden on read and purged by a background sweeper.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMemoryStore starts a MemoryStore whose sweeper runs every interval.
// A zero interval uses one minute. Close stops the sweeper.
func NewMemoryStore(interval time.Duration) *MemoryStore {
	return newMemoryStore(interval, time.Now)
}

// NewMemoryStoreWithClock is NewMemoryStore with an injectable clock.
func NewMemoryStoreWithClock(interval time.Duration, now func() time.Time) *MemoryStore {
	return newMemoryStore(interval, now)
}

func newMemoryStore(interval time.Duration, now func() time.Time) *MemoryStore {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	s := &MemoryStore{
		entries: make(map[string]entry),
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweep(interval)
	return s
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || s.expired(e, now) {
		e = entry{value: "0", expiresAt: now.Add(ttl)}
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.entries[key] = e
	return n, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || s.expired(e, s.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if s.expired(e, s.now()) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Close stops the sweeper and waits for it to exit.
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.entries {
		if !s.expired(e, now) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) sweep(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

func (s *MemoryStore) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryStore) expired(e entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
