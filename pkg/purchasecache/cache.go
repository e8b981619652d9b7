package purchasecache

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultTTL bounds how stale a cached purchase answer may get.
const DefaultTTL = 5 * time.Minute

type entry struct {
	value   bool
	owners  []string
	expires time.Time
}

// Cache memoizes purchase and subscription answers. Entries are tagged with
// the identities they belong to so a payment change can drop them.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PurchaseKey is purchase:user:product:provider. Parts are query-escaped so
// a ':' inside an id cannot shift fields; an empty provider means any.
func PurchaseKey(userID, productID, provider string) string {
	return buildKey("purchase", userID, productID, orAny(provider))
}

// SubscriptionKey is subscription:user:provider; an empty provider means any.
func SubscriptionKey(userID, provider string) string {
	return buildKey("subscription", userID, orAny(provider))
}

func buildKey(kind string, parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, kind)
	for _, p := range parts {
		escaped = append(escaped, url.QueryEscape(p))
	}
	return strings.Join(escaped, ":")
}

func orAny(provider string) string {
	if provider == "" {
		return "any"
	}
	return provider
}

func (c *Cache) Get(key string) (bool, bool) {
	if c == nil {
		return false, false
	}
	c.mu.RLock()
	item, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(item.expires) {
		return false, false
	}
	return item.value, true
}

// Set stores value under key. owners are the user ids or emails the answer
// was computed for.
func (c *Cache) Set(key string, value bool, owners ...string) {
	if c == nil {
		return
	}
	tags := make([]string, 0, len(owners))
	for _, o := range owners {
		if o = normalizeOwner(o); o != "" {
			tags = append(tags, o)
		}
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, owners: tags, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Cache) Invalidate(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateOwner drops every entry tagged with any of owners.
func (c *Cache) InvalidateOwner(owners ...string) int {
	if c == nil {
		return 0
	}
	targets := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		if o = normalizeOwner(o); o != "" {
			targets[o] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return 0
	}

	removed := 0
	c.mu.Lock()
	for key, item := range c.entries {
		for _, tag := range item.owners {
			if _, hit := targets[tag]; hit {
				delete(c.entries, key)
				removed++
				break
			}
		}
	}
	c.mu.Unlock()
	return removed
}

// Purge removes expired entries.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	now := c.now()
	c.mu.Lock()
	for key, item := range c.entries {
		if !now.Before(item.expires) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func normalizeOwner(o string) string {
	return strings.ToLower(strings.TrimSpace(o))
}
