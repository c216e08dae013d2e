package persistence

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/repository"
)

// CachedStateRepository fronts a StateRepository with a bounded LRU whose
// entries also expire after a TTL. Writes go through: the cache entry is
// invalidated before the store write and refilled only after it succeeds,
// so the next read after a failed write sees the store's truth.
//
// Per-conversation serialization is the dialog manager's job; the cache
// only guards its own maps.
type CachedStateRepository struct {
	inner repository.StateRepository

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	size    int
	ttl     time.Duration
	now     func() time.Time

	logger *zap.Logger
}

type cacheEntry struct {
	key      string
	state    *entity.DialogState
	storedAt time.Time
}

// NewCachedStateRepository wraps inner with an LRU of the given capacity.
func NewCachedStateRepository(inner repository.StateRepository, size int, ttl time.Duration, logger *zap.Logger) *CachedStateRepository {
	if size <= 0 {
		size = 2048
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CachedStateRepository{
		inner:   inner,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		size:    size,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "state-cache")),
	}
}

func cacheKey(botID, platform, chatID string) string {
	return botID + "|" + platform + "|" + chatID
}

func (c *CachedStateRepository) Get(ctx context.Context, botID, platform, chatID string) (*entity.DialogState, error) {
	key := cacheKey(botID, platform, chatID)

	if state, ok := c.lookup(key); ok {
		return state, nil
	}

	state, err := c.inner.Get(ctx, botID, platform, chatID)
	if err != nil {
		return nil, err
	}
	c.store(key, state)
	return state, nil
}

func (c *CachedStateRepository) Create(ctx context.Context, state *entity.DialogState) error {
	if err := c.inner.Create(ctx, state); err != nil {
		return err
	}
	c.store(cacheKey(state.BotID, state.Platform, state.ChatID), state)
	return nil
}

func (c *CachedStateRepository) Update(ctx context.Context, state *entity.DialogState) error {
	key := cacheKey(state.BotID, state.Platform, state.ChatID)

	// Invalidate first: a concurrent reader must never see the pre-write
	// value once the store write may have landed.
	c.invalidate(key)

	if err := c.inner.Update(ctx, state); err != nil {
		return err
	}
	c.store(key, state)
	return nil
}

func (c *CachedStateRepository) Delete(ctx context.Context, stateID string) error {
	// The id does not carry the conversation key; drop any entry holding
	// this state.
	c.mu.Lock()
	for key, el := range c.entries {
		if el.Value.(*cacheEntry).state.ID == stateID {
			c.lru.Remove(el)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	return c.inner.Delete(ctx, stateID)
}

func (c *CachedStateRepository) AppendHistory(ctx context.Context, entry *entity.DialogHistoryEntry) error {
	return c.inner.AppendHistory(ctx, entry)
}

func (c *CachedStateRepository) History(ctx context.Context, dialogID string, limit int) ([]*entity.DialogHistoryEntry, error) {
	return c.inner.History(ctx, dialogID, limit)
}

func (c *CachedStateRepository) lookup(key string) (*entity.DialogState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.lru.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.lru.MoveToFront(el)
	return entry.state, true
}

func (c *CachedStateRepository) store(key string, state *entity.DialogState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.state = state
		entry.storedAt = c.now()
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&cacheEntry{key: key, state: state, storedAt: c.now()})
	c.entries[key] = el

	for c.lru.Len() > c.size {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *CachedStateRepository) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.lru.Remove(el)
		delete(c.entries, key)
	}
}
