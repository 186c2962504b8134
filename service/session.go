package service

import (
	"sync"
	"time"
)

// MatchingSession gates mutating operations to an operational window.
// Reads keep working after the window closes.
type MatchingSession struct {
	startTime time.Time
	endTime   time.Time
	isActive  bool
	mu        sync.RWMutex
}

func NewMatchingSession(duration time.Duration) *MatchingSession {
	now := time.Now()
	return &MatchingSession{
		startTime: now,
		endTime:   now.Add(duration),
		isActive:  true,
	}
}

func (ms *MatchingSession) IsActive() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.isActive && time.Now().Before(ms.endTime)
}

func (ms *MatchingSession) End() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.isActive = false
}
