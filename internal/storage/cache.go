package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/service"
)

// DefaultCacheTTL is used when a DecisionCache is created with a zero TTL.
const DefaultCacheTTL = 15 * time.Minute

type cacheEntry struct {
	expiry   time.Time
	decision model.PaymentDecision
}

// DecisionCache is a read-through TTL cache in front of a DecisionStore.
// Decisions are never revised, so a cached decision stays correct until it is
// evicted. The cleanup loop runs between Start and Stop.
type DecisionCache struct {
	store   service.DecisionStore
	entries map[string]cacheEntry
	now     func() time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	runMu   sync.Mutex
}

// NewDecisionCache wraps store with a cache of the given TTL.
func NewDecisionCache(store service.DecisionStore, ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &DecisionCache{
		store:   store,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
		ttl:     ttl,
	}
}

// GetDecisionByHash implements service.DecisionStore.
func (c *DecisionCache) GetDecisionByHash(ctx context.Context, contentHash string) (*model.PaymentDecision, error) {
	if d, ok := c.get(contentHash); ok {
		return d, nil
	}
	d, err := c.store.GetDecisionByHash(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	c.set(d)
	return d, nil
}

// SaveDecision implements service.DecisionStore.
func (c *DecisionCache) SaveDecision(ctx context.Context, decision *model.PaymentDecision) (*model.PaymentDecision, error) {
	stored, err := c.store.SaveDecision(ctx, decision)
	if err != nil {
		return nil, err
	}
	c.set(stored)
	return stored, nil
}

func (c *DecisionCache) get(key string) (*model.PaymentDecision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || c.now().After(entry.expiry) {
		return nil, false
	}
	d := entry.decision
	return &d, true
}

func (c *DecisionCache) set(d *model.PaymentDecision) {
	if d == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[d.ContentHash] = cacheEntry{decision: *d, expiry: c.now().Add(c.ttl)}
}

// Start launches the eviction loop. Calling Start twice is a no-op.
func (c *DecisionCache) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stopCh != nil {
		return
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.cleanup(c.stopCh, c.doneCh)
}

// Stop ends the eviction loop and waits for it to exit.
func (c *DecisionCache) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.stopCh, c.doneCh = nil, nil
}

func (c *DecisionCache) cleanup(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := c.ttl / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *DecisionCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached decisions, including expired ones not yet evicted.
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
