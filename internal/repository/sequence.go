package repository

import (
	"sync"
	"time"
)

// sequenceClock hands out millisecond sort keys that are strictly increasing
// within the process, even when the wall clock stalls or steps backwards.
type sequenceClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newSequenceClock(now func() time.Time) *sequenceClock {
	return &sequenceClock{now: now}
}

func (s *sequenceClock) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ms
}

// observe records a sequence known to be taken so the next value exceeds it.
func (s *sequenceClock) observe(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.last {
		s.last = seq
	}
}
