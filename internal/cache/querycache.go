package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// QueryCachePrefix namespaces every memoized query result in the KV store.
const QueryCachePrefix = "query-cache:"

// QueryCache memoizes expensive read queries. Keys are derived from the
// scope name and a canonical-JSON rendering of the parameters, so
// semantically identical parameter sets always hash identically regardless
// of construction order.
type QueryCache struct {
	kv  KV
	obs Observer
}

// NewQueryCache creates a QueryCache over kv. obs may be nil.
func NewQueryCache(kv KV, obs Observer) *QueryCache {
	if obs == nil {
		obs = nopObserver{}
	}
	return &QueryCache{kv: kv, obs: obs}
}

// CanonicalJSON renders v as JSON with object keys sorted recursively and
// array order preserved.
func CanonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "cache: marshal params")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", eris.Wrap(err, "cache: decode params")
	}
	var b strings.Builder
	writeCanonical(&b, decoded)
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v any) {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encoded, _ := json.Marshal(key)
			b.Write(encoded)
			b.WriteByte(':')
			writeCanonical(b, value[key])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		encoded, _ := json.Marshal(value)
		b.Write(encoded)
	}
}

// Hash computes the stable digest for a scope and parameter set.
func Hash(scope string, params any) (string, error) {
	canonical, err := CanonicalJSON(params)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(scope + ":" + canonical))
	return hex.EncodeToString(digest[:]), nil
}

// Key computes the full KV key for a scope and parameter set.
func Key(scope string, params any) (string, error) {
	hash, err := Hash(scope, params)
	if err != nil {
		return "", err
	}
	return QueryCachePrefix + scope + ":" + hash, nil
}

// Memoize returns the cached result for (scope, params) or computes, stores,
// and returns it. A corrupted cache payload is treated as a miss and
// recomputed silently.
func Memoize[T any](ctx context.Context, qc *QueryCache, scope string, ttl time.Duration, params any, compute func(context.Context) (T, error)) (T, error) {
	var zero T

	key, err := Key(scope, params)
	if err != nil {
		return zero, err
	}

	if raw, ok, err := qc.kv.Get(ctx, key); err != nil {
		return zero, err
	} else if ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			qc.obs.CacheHit(scope)
			return cached, nil
		}
		zap.L().Debug("discarding malformed cache payload", zap.String("scope", scope))
	}
	qc.obs.CacheMiss(scope)

	result, err := compute(ctx)
	if err != nil {
		return zero, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return zero, eris.Wrapf(err, "cache: marshal result for %s", scope)
	}
	if err := qc.kv.Put(ctx, key, payload, ttl); err != nil {
		return zero, err
	}
	return result, nil
}
