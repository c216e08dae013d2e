package service

import (
	"fmt"
	"testing"
	"time"
)

func TestSeenSet_ReplayDetected(t *testing.T) {
	s := NewSeenSet(1024, time.Minute)

	if s.Seen("bot1", "100") {
		t.Fatal("first observation must be unseen")
	}
	if !s.Seen("bot1", "100") {
		t.Fatal("replay inside TTL must be seen")
	}
}

func TestSeenSet_ScopedPerBot(t *testing.T) {
	s := NewSeenSet(1024, time.Minute)

	s.Seen("bot1", "100")
	if s.Seen("bot2", "100") {
		t.Fatal("update ids are bot-scoped")
	}
}

func TestSeenSet_EmptyIDNeverSeen(t *testing.T) {
	s := NewSeenSet(1024, time.Minute)

	if s.Seen("bot1", "") || s.Seen("bot1", "") {
		t.Fatal("events without an update id must never be dropped")
	}
}

func TestSeenSet_TTLExpiry(t *testing.T) {
	s := NewSeenSet(1024, time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Seen("bot1", "100")

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if s.Seen("bot1", "100") {
		t.Fatal("expired entry must count as unseen")
	}
	// The stamp was refreshed, so an immediate replay is caught again.
	if !s.Seen("bot1", "100") {
		t.Fatal("refreshed entry must be seen")
	}
}

func TestSeenSet_FIFOEviction(t *testing.T) {
	s := NewSeenSet(3, time.Hour)

	for i := 0; i < 4; i++ {
		s.Seen("bot1", fmt.Sprintf("%d", i))
	}

	// "0" was evicted to stay within capacity; "3" is still tracked.
	if s.Seen("bot1", "0") {
		t.Fatal("oldest entry should have been evicted")
	}
	if !s.Seen("bot1", "3") {
		t.Fatal("newest entry must still be tracked")
	}
}
