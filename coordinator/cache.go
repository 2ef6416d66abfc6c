package coordinator

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/locilabs/loci/core"
)

// queryCache is the coordinator's short-lived, advisory operation cache. A
// miss or stale hit never produces an incorrect isolation decision:
// isolation is re-checked on every call and only post-check results are
// cached.
type queryCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

func newQueryCache(ttl time.Duration) (*queryCache, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &queryCache{cache: c, ttl: ttl}, nil
}

// key derives the cache key from tenant and query shape. The full text
// rendering goes in, not just the description: attributes feed the query
// embedding, so queries differing only in attributes are distinct.
func (qc *queryCache) key(tenantID string, query core.TaskContext, opts QueryOptions) string {
	return fmt.Sprintf("q/%s/%s/%s/%d/%t/%t/%.2f",
		tenantID, query.TaskID, query.Text(),
		opts.Limit, opts.IncludeShared, opts.IncludeFederated, opts.MinRelevance)
}

func (qc *queryCache) get(key string) ([]core.ContextualMemory, bool) {
	v, ok := qc.cache.Get(key)
	if !ok {
		return nil, false
	}
	mems, ok := v.([]core.ContextualMemory)
	return mems, ok
}

func (qc *queryCache) set(key string, mems []core.ContextualMemory) {
	qc.cache.SetWithTTL(key, mems, 1, qc.ttl)
	// Sets are buffered; wait so a subsequent identical query can hit.
	qc.cache.Wait()
}

// clear drops everything. Ristretto has no per-prefix eviction; tenant
// writes are rare relative to reads, so a full clear is acceptable.
func (qc *queryCache) clear() {
	qc.cache.Clear()
}

func (qc *queryCache) close() {
	qc.cache.Close()
}
