package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/pmhub/hubsync/internal/hub"
)

const defaultCacheDuration = time.Second

type StateCacheOptions struct {
	Remote RemoteClient
	Mirror *Mirror
	// TTL is how long a fetched document stays fresh. Defaults to 1s.
	TTL    time.Duration
	Now    func() time.Time
	Logger Logger
}

// StateCache is a short-TTL read cache in front of the remote store. Reads
// within the window reuse the last fetched document; on remote failure the
// durable mirror serves as the fallback.
type StateCache struct {
	mu        sync.Mutex
	remote    RemoteClient
	mirror    *Mirror
	ttl       time.Duration
	now       func() time.Time
	logger    Logger
	doc       *hub.StateDocument
	fetchedAt time.Time
}

func NewStateCache(opts StateCacheOptions) *StateCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultCacheDuration
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &StateCache{
		remote: opts.Remote,
		mirror: opts.Mirror,
		ttl:    ttl,
		now:    now,
		logger: opts.Logger,
	}
}

// GetState returns the cached document when it is still fresh and the caller
// did not force a refresh; otherwise it fetches from the remote store. When
// the remote is unreachable the mirror's copy is returned instead, and nil
// when no fallback exists.
func (c *StateCache) GetState(ctx context.Context, forceRefresh bool) (*hub.StateDocument, error) {
	c.mu.Lock()
	if !forceRefresh && c.doc != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		doc := c.doc
		c.mu.Unlock()
		return doc, nil
	}
	c.mu.Unlock()

	doc, err := c.remote.LoadState(ctx)
	if err != nil {
		c.logf("state read failed, trying mirror: %v", err)
		if c.mirror != nil {
			if mirrored, mirrorErr := c.mirror.Read(); mirrorErr == nil && mirrored != nil {
				return mirrored, nil
			}
		}
		return nil, err
	}

	c.mu.Lock()
	c.doc = doc
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return doc, nil
}

// Put refreshes the cache after a successful local write.
func (c *StateCache) Put(doc *hub.StateDocument) {
	if doc == nil {
		return
	}
	c.mu.Lock()
	c.doc = doc
	c.fetchedAt = c.now()
	c.mu.Unlock()
}

// Clear forces the next read to go remote.
func (c *StateCache) Clear() {
	c.mu.Lock()
	c.doc = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

func (c *StateCache) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
