package logging

import "sync"

// ProgressSampler suppresses repetitive per-task progress logs, emitting
// only when a task crosses a percentage bucket boundary.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	last       map[string]int
}

// NewProgressSampler constructs a sampler with the given bucket width
// (default 10%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, last: make(map[string]int)}
}

// ShouldLog reports whether progress for key should be logged.
func (s *ProgressSampler) ShouldLog(key string, percent float64) bool {
	if s == nil {
		return true
	}
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	bucket := int(percent / s.bucketSize)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.last[key]
	if seen && bucket <= prev {
		return false
	}
	s.last[key] = bucket
	return true
}

// Forget drops state for a single key.
func (s *ProgressSampler) Forget(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.last, key)
	s.mu.Unlock()
}

// Reset clears all sampler state (e.g. when a new batch starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.last = make(map[string]int)
	s.mu.Unlock()
}
