package guild

import (
	"context"
	"sync"
	"time"

	"chat-relay/internal/types"
	"golang.org/x/sync/singleflight"
)

type membershipEntry struct {
	member    bool
	expiresAt time.Time
}

type channelEntry struct {
	channel   types.Channel
	expiresAt time.Time
}

// Cache is a TTL-bounded, read-through view of the guild service. Misses
// and expired entries trigger a synchronous refresh; concurrent refreshes
// for the same key collapse into a single upstream call.
type Cache struct {
	svc Service
	ttl time.Duration

	mu          sync.RWMutex
	memberships map[string]membershipEntry
	channels    map[string]channelEntry

	group singleflight.Group

	now func() time.Time
}

func NewCache(svc Service, ttl time.Duration) *Cache {
	return &Cache{
		svc:         svc,
		ttl:         ttl,
		memberships: make(map[string]membershipEntry),
		channels:    make(map[string]channelEntry),
		now:         time.Now,
	}
}

func membershipKey(userId, channelId string) string {
	return userId + "\x00" + channelId
}

// IsMember answers cache-first, refreshing from the guild service on a
// miss or an expired entry.
func (c *Cache) IsMember(ctx context.Context, userId, channelId string) (bool, error) {
	key := membershipKey(userId, channelId)

	c.mu.RLock()
	entry, ok := c.memberships[key]
	c.mu.RUnlock()

	if ok && c.now().Before(entry.expiresAt) {
		return entry.member, nil
	}

	v, err, _ := c.group.Do("m:"+key, func() (any, error) {
		member, err := c.svc.IsMember(ctx, userId, channelId)
		if err != nil {
			return false, err
		}

		c.mu.Lock()
		c.memberships[key] = membershipEntry{member: member, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()

		return member, nil
	})
	if err != nil {
		return false, err
	}

	return v.(bool), nil
}

func (c *Cache) GetChannel(ctx context.Context, channelId string) (types.Channel, error) {
	c.mu.RLock()
	entry, ok := c.channels[channelId]
	c.mu.RUnlock()

	if ok && c.now().Before(entry.expiresAt) {
		return entry.channel, nil
	}

	v, err, _ := c.group.Do("c:"+channelId, func() (any, error) {
		ch, err := c.svc.GetChannel(ctx, channelId)
		if err != nil {
			return types.Channel{}, err
		}

		c.mu.Lock()
		c.channels[channelId] = channelEntry{channel: ch, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()

		return ch, nil
	})
	if err != nil {
		return types.Channel{}, err
	}

	return v.(types.Channel), nil
}

// Invalidate evicts the membership entry for (userId, channelId) so the
// next check goes back to the guild service. Called when a user is
// removed from a channel.
func (c *Cache) Invalidate(userId, channelId string) {
	c.mu.Lock()
	delete(c.memberships, membershipKey(userId, channelId))
	c.mu.Unlock()
}
