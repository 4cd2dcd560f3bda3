package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// LastUpdatedKey stores the timestamp of the most recent completed sync run,
// as RFC 3339 text.
const LastUpdatedKey = "meta:last_updated_at"

// Cache bundles the query cache, the table cache, and the raw KV they share.
// It is constructed once and passed to every component that needs it; there
// is no package-level client.
type Cache struct {
	kv     KV
	Query  *QueryCache
	Tables *TableCache
}

// New creates a Cache over kv. obs may be nil.
func New(kv KV, obs Observer) *Cache {
	return &Cache{
		kv:     kv,
		Query:  NewQueryCache(kv, obs),
		Tables: NewTableCache(kv, obs),
	}
}

// FlushAll deletes every entry under both cache prefixes. Sync runs call
// this after adding records: a full flush rather than selective invalidation,
// since sync is infrequent and the statistics aggregate the whole table.
func (c *Cache) FlushAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.kv.DeletePrefix(gctx, QueryCachePrefix) })
	g.Go(func() error { return c.kv.DeletePrefix(gctx, TableCachePrefix) })
	return g.Wait()
}

// SetLastUpdated records when data was last synced. Written on every run,
// even when nothing changed, so staleness reporting reflects "sync ran"
// rather than "data changed".
func (c *Cache) SetLastUpdated(ctx context.Context, t time.Time) error {
	return c.kv.Put(ctx, LastUpdatedKey, []byte(t.UTC().Format(time.RFC3339)), 0)
}

// LastUpdated returns the last sync timestamp, or nil when none is recorded.
func (c *Cache) LastUpdated(ctx context.Context) (*time.Time, error) {
	raw, ok, err := c.kv.Get(ctx, LastUpdatedKey)
	if err != nil || !ok {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse last-updated timestamp")
	}
	return &t, nil
}
