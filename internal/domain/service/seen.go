package service

import (
	"sync"
	"time"
)

// SeenSet suppresses webhook replays: each bot keeps a bounded FIFO of
// recently processed update ids with a TTL. An update id observed twice
// inside the TTL is dropped before any dialog work happens.
type SeenSet struct {
	mu   sync.Mutex
	bots map[string]*botSeen
	size int
	ttl  time.Duration
	now  func() time.Time
}

type botSeen struct {
	entries map[string]time.Time
	order   []string // FIFO eviction
}

// NewSeenSet creates a seen set with a per-bot capacity and entry TTL.
func NewSeenSet(size int, ttl time.Duration) *SeenSet {
	if size <= 0 {
		size = 1024
	}
	return &SeenSet{
		bots: make(map[string]*botSeen),
		size: size,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen records the update id and reports whether it was already present
// and fresh. Expired entries count as unseen.
func (s *SeenSet) Seen(botID, updateID string) bool {
	if updateID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bs, ok := s.bots[botID]
	if !ok {
		bs = &botSeen{entries: make(map[string]time.Time)}
		s.bots[botID] = bs
	}

	now := s.now()
	if seenAt, exists := bs.entries[updateID]; exists {
		if now.Sub(seenAt) < s.ttl {
			return true
		}
		// Expired: treat as new, refresh the stamp.
		bs.entries[updateID] = now
		return false
	}

	bs.entries[updateID] = now
	bs.order = append(bs.order, updateID)

	for len(bs.order) > s.size {
		oldest := bs.order[0]
		bs.order = bs.order[1:]
		delete(bs.entries, oldest)
	}

	return false
}
