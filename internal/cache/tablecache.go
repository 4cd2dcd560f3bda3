package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// Key layout for the table cache. The drizzle-cache prefix is the persisted
// KV namespace shared with prior deployments; changing it would orphan live
// cache state.
const (
	TableCachePrefix = "drizzle-cache:"

	queryKeyPrefix   = TableCachePrefix + "query:"
	tableIndexPrefix = TableCachePrefix + "table:"
	tagIndexPrefix   = TableCachePrefix + "tag:"
)

type refKind int

const (
	refTable refKind = iota
	refTag
)

// Ref names one invalidation dependency: either a table or an explicit tag.
// It is resolved to its index key once, at construction.
type Ref struct {
	kind refKind
	name string
}

// Table references a table dependency.
func Table(name string) Ref { return Ref{kind: refTable, name: name} }

// Tag references a named tag dependency.
func Tag(name string) Ref { return Ref{kind: refTag, name: name} }

func (r Ref) indexKey() string {
	if r.kind == refTag {
		return tagIndexPrefix + r.name
	}
	return tableIndexPrefix + r.name
}

// TableCache stores raw query responses under a query-hash key and maintains
// per-table and per-tag indexes of dependent hashes, so a mutation can drop
// every response derived from the mutated data in one pass.
type TableCache struct {
	kv  KV
	obs Observer
}

// NewTableCache creates a TableCache over kv. obs may be nil.
func NewTableCache(kv KV, obs Observer) *TableCache {
	if obs == nil {
		obs = nopObserver{}
	}
	return &TableCache{kv: kv, obs: obs}
}

// PutOptions configures one stored response.
type PutOptions struct {
	Tables []string
	Tag    string
	TTL    time.Duration // zero caches until invalidation
}

// Get unmarshals the cached response for hash into dest. A malformed payload
// is a miss, never an error.
func (c *TableCache) Get(ctx context.Context, hash string, dest any) (bool, error) {
	raw, ok, err := c.kv.Get(ctx, queryKeyPrefix+hash)
	if err != nil {
		return false, err
	}
	if !ok {
		c.obs.CacheMiss("table-cache")
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.obs.CacheMiss("table-cache")
		return false, nil
	}
	c.obs.CacheHit("table-cache")
	return true, nil
}

// Put stores a response and registers it in the index of every table and tag
// it depends on.
func (c *TableCache) Put(ctx context.Context, hash string, response any, opts PutOptions) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return eris.Wrapf(err, "cache: marshal response for %s", hash)
	}
	if err := c.kv.Put(ctx, queryKeyPrefix+hash, payload, opts.TTL); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Tag != "" {
		tag := opts.Tag
		g.Go(func() error { return c.appendToIndex(gctx, Tag(tag).indexKey(), hash) })
	}
	for _, table := range opts.Tables {
		key := Table(table).indexKey()
		g.Go(func() error { return c.appendToIndex(gctx, key, hash) })
	}
	return g.Wait()
}

// OnMutate invalidates every cached response dependent on any of the given
// refs, then drops the indexes themselves. Index deletions are independent
// and run concurrently, but OnMutate returns only once all have finished.
func (c *TableCache) OnMutate(ctx context.Context, refs ...Ref) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		key := ref.indexKey()
		g.Go(func() error { return c.invalidateIndex(gctx, key) })
	}
	return g.Wait()
}

// appendToIndex adds hash to the index list, deduplicating so repeated
// identical queries do not grow the list without bound.
func (c *TableCache) appendToIndex(ctx context.Context, indexKey, hash string) error {
	existing := c.readIndex(ctx, indexKey)
	for _, item := range existing {
		if item == hash {
			return nil
		}
	}
	existing = append(existing, hash)
	payload, err := json.Marshal(existing)
	if err != nil {
		return eris.Wrapf(err, "cache: marshal index %s", indexKey)
	}
	return c.kv.Put(ctx, indexKey, payload, 0)
}

func (c *TableCache) invalidateIndex(ctx context.Context, indexKey string) error {
	hashes := c.readIndex(ctx, indexKey)
	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, queryKeyPrefix+hash)
	}
	keys = append(keys, indexKey)
	return c.kv.Delete(ctx, keys...)
}

// readIndex returns the stored hash list, or nil when missing or malformed.
func (c *TableCache) readIndex(ctx context.Context, indexKey string) []string {
	raw, ok, err := c.kv.Get(ctx, indexKey)
	if err != nil || !ok {
		return nil
	}
	var hashes []string
	if err := json.Unmarshal(raw, &hashes); err != nil {
		return nil
	}
	return hashes
}
