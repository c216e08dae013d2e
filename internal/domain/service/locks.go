package service

import (
	"context"
	"hash/fnv"
	"time"

	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// ConversationLocks serializes event handling per conversation while
// letting distinct conversations proceed in parallel. A striped set of
// channel-based mutexes keyed by a hash of (bot, platform, chat) keeps
// the memory bound independent of conversation count.
//
// Acquisition is bounded: a conversation whose lock cannot be taken in
// time rejects the event with CodeBusy and relies on platform redelivery.
type ConversationLocks struct {
	stripes []chan struct{}
	timeout time.Duration
}

// NewConversationLocks creates a lock set with the given stripe count.
func NewConversationLocks(stripes int, timeout time.Duration) *ConversationLocks {
	if stripes <= 0 {
		stripes = 256
	}
	l := &ConversationLocks{
		stripes: make([]chan struct{}, stripes),
		timeout: timeout,
	}
	for i := range l.stripes {
		l.stripes[i] = make(chan struct{}, 1)
	}
	return l
}

// Acquire takes the lock for a conversation. The returned release
// function must be called exactly once. Errors are CodeBusy (bounded
// wait expired) or the context's own error.
func (l *ConversationLocks) Acquire(ctx context.Context, botID, platform, chatID string) (func(), error) {
	stripe := l.stripeFor(botID, platform, chatID)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case stripe <- struct{}{}:
		return func() { <-stripe }, nil
	case <-timer.C:
		return nil, apperrors.New(apperrors.CodeBusy, "conversation lock wait exceeded")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *ConversationLocks) stripeFor(botID, platform, chatID string) chan struct{} {
	h := fnv.New32a()
	h.Write([]byte(botID))
	h.Write([]byte{0})
	h.Write([]byte(platform))
	h.Write([]byte{0})
	h.Write([]byte(chatID))
	return l.stripes[h.Sum32()%uint32(len(l.stripes))]
}
