// Package prefixcache is the small user-prefix cache C7 exposes: all
// user prefixes loaded once into memory (userId -> prefix string, where
// "none" means empty) and refreshed every 10 minutes; single-row
// updates write through.
package prefixcache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/infrastructure/valkey"
)

// NoPrefix is the sentinel stored for a user with an empty prefix,
// distinguishing "looked up, has none" from "never loaded".
const NoPrefix = "none"

// Loader reads every user's prefix from the relational metadata store
// in one pass, for the periodic full refresh.
type Loader func(ctx context.Context) (map[string]string, error)

// Cache is an in-memory map with an optional Valkey write-behind
// mirror, refreshed wholesale every refreshInterval and updated
// single-row on PutPrefix.
type Cache struct {
	mu   sync.RWMutex
	data map[string]string

	load     Loader
	valkey   *valkey.Client // optional; nil disables the mirror
	interval time.Duration

	stopCh chan struct{}
	log    *logrus.Entry
}

// New builds a prefix cache. vk may be nil to run memory-only.
func New(load Loader, vk *valkey.Client, refreshInterval time.Duration) *Cache {
	if refreshInterval <= 0 {
		refreshInterval = 10 * time.Minute
	}
	return &Cache{
		data:     make(map[string]string),
		load:     load,
		valkey:   vk,
		interval: refreshInterval,
		stopCh:   make(chan struct{}),
		log:      logrus.WithField("component", "prefixcache"),
	}
}

// Start performs the initial full load and launches the periodic
// refresh loop; blocking only for the initial load.
func (c *Cache) Start(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return err
	}
	go c.refreshLoop()
	return nil
}

func (c *Cache) Stop() {
	close(c.stopCh)
}

func (c *Cache) refreshLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.refresh(context.Background()); err != nil {
				c.log.WithError(err).Warn("[PREFIX_CACHE] periodic refresh failed, keeping stale data")
			}
		}
	}
}

func (c *Cache) refresh(ctx context.Context) error {
	fresh, err := c.load(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data = fresh
	c.mu.Unlock()
	return nil
}

// GetPrefix returns the cached prefix for a user, or NoPrefix if the
// user has none or has not been loaded.
func (c *Cache) GetPrefix(userID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.data[userID]; ok {
		return p
	}
	return NoPrefix
}

// PutPrefix writes a single row through to the in-memory map and, if
// configured, mirrors it into Valkey for cross-process acceleration
// (not consensus: this controller remains the single owner of truth).
func (c *Cache) PutPrefix(ctx context.Context, userID, prefix string) {
	if prefix == "" {
		prefix = NoPrefix
	}
	c.mu.Lock()
	c.data[userID] = prefix
	c.mu.Unlock()

	if c.valkey == nil {
		return
	}
	key := c.valkey.Key("prefix", userID)
	cmd := c.valkey.Inner().B().Set().Key(key).Value(prefix).Build()
	if err := c.valkey.Inner().Do(ctx, cmd).Error(); err != nil {
		c.log.WithError(err).WithField("user_id", userID).Warn("[PREFIX_CACHE] valkey mirror write failed")
	}
}

// Size returns the number of cached entries, for operational metrics.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
