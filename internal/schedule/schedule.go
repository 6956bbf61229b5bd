package schedule

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler owns delayed tasks process-wide. Every scheduled task has an
// explicit cancel handle; nothing is cancelled implicitly.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	logger *slog.Logger
	closed bool
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		logger: logger,
	}
}

// After schedules fn to run once after d. Scheduling under an id that is
// already pending replaces the previous task. The returned handle cancels
// the task if it has not fired yet.
func (s *Scheduler) After(id string, d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	if prev, ok := s.timers[id]; ok {
		prev.Stop()
	}
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
	s.timers[id] = timer
	return func() { s.Cancel(id) }
}

func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending task. Tasks already running are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.closed = true
	if s.logger != nil {
		s.logger.Info("scheduler stopped")
	}
}

type ttlEntry struct {
	value     any
	expiresAt time.Time
}

// TTLStore is a bounded in-memory store with per-entry TTL and periodic
// eviction. It replaces unbounded process-lifetime maps for transient state
// such as pending verification reminders.
type TTLStore struct {
	mu         sync.Mutex
	entries    map[string]ttlEntry
	maxEntries int
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewTTLStore(maxEntries int, sweepInterval time.Duration) *TTLStore {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	st := &TTLStore{
		entries:    make(map[string]ttlEntry),
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}
	go st.sweep(sweepInterval)
	return st
}

// Put stores value under key for ttl. Returns false when the store is full
// and no expired entry could be evicted to make room.
func (st *TTLStore) Put(key string, value any, ttl time.Duration) bool {
	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.entries[key]; !exists && len(st.entries) >= st.maxEntries {
		st.evictExpiredLocked(now)
		if len(st.entries) >= st.maxEntries {
			return false
		}
	}
	st.entries[key] = ttlEntry{value: value, expiresAt: now.Add(ttl)}
	return true
}

func (st *TTLStore) Get(key string) (any, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	entry, ok := st.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(st.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (st *TTLStore) Delete(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.entries, key)
}

func (st *TTLStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}

func (st *TTLStore) Close() {
	st.stopOnce.Do(func() { close(st.stopCh) })
}

func (st *TTLStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-st.stopCh:
			return
		case <-ticker.C:
			st.mu.Lock()
			st.evictExpiredLocked(time.Now())
			st.mu.Unlock()
		}
	}
}

func (st *TTLStore) evictExpiredLocked(now time.Time) {
	for key, entry := range st.entries {
		if now.After(entry.expiresAt) {
			delete(st.entries, key)
		}
	}
}
