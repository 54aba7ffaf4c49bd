package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"docbot/internal/adapter/metrics"
	"docbot/internal/domain"
	"docbot/internal/port"
)

// QueryCache is a bounded LRU of retrieval results with a TTL. Every
// Invalidate bumps a generation counter so results computed before an
// ingest are never served after it.
type QueryCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List
	maxSize  int
	ttl      time.Duration
	indexGen uint64
	now      func() time.Time
}

type cacheEntry struct {
	key       string
	results   []domain.RetrievalResult
	timestamp time.Time
	indexGen  uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(question, docID string, topK int) string {
	data := strings.Join([]string{strings.TrimSpace(question), docID, strconv.Itoa(topK)}, "\x00")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}

func (c *QueryCache) Get(question, docID string, topK int) ([]domain.RetrievalResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(question, docID, topK)
	el, exists := c.entries[key]
	if !exists {
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.timestamp) > c.ttl || entry.indexGen != c.indexGen {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}

	c.order.MoveToBack(el)
	return cloneResults(entry.results), true
}

// Generation returns the current invalidation generation. Pass it to PutAt
// to cache results computed from the index as it was at that generation.
func (c *QueryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexGen
}

func (c *QueryCache) Put(question, docID string, topK int, results []domain.RetrievalResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(question, docID, topK, results)
}

// PutAt caches results only if no Invalidate happened since gen was read.
// It reports whether the results were stored.
func (c *QueryCache) PutAt(question, docID string, topK int, gen uint64, results []domain.RetrievalResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.indexGen {
		return false
	}
	c.put(question, docID, topK, results)
	return true
}

func (c *QueryCache) put(question, docID string, topK int, results []domain.RetrievalResult) {
	key := cacheKey(question, docID, topK)
	entry := &cacheEntry{
		key:       key,
		results:   cloneResults(results),
		timestamp: c.now(),
		indexGen:  c.indexGen,
	}

	if el, exists := c.entries[key]; exists {
		el.Value = entry
		c.order.MoveToBack(el)
		return
	}

	if len(c.entries) >= c.maxSize {
		if oldest := c.order.Front(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	c.entries[key] = c.order.PushBack(entry)
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.indexGen++
}

func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cloneResults(results []domain.RetrievalResult) []domain.RetrievalResult {
	if results == nil {
		return nil
	}
	out := make([]domain.RetrievalResult, len(results))
	copy(out, results)
	return out
}

// CachedRetriever serves repeated queries from a QueryCache.
type CachedRetriever struct {
	retriever port.Retriever
	cache     *QueryCache
	metrics   *metrics.Metrics
}

func NewCachedRetriever(retriever port.Retriever, cache *QueryCache, m *metrics.Metrics) *CachedRetriever {
	return &CachedRetriever{
		retriever: retriever,
		cache:     cache,
		metrics:   m,
	}
}

func (r *CachedRetriever) Search(ctx context.Context, question, docID string, k int) ([]domain.RetrievalResult, error) {
	gen := r.cache.Generation()
	if results, hit := r.cache.Get(question, docID, k); hit {
		r.metrics.ObserveCache(true)
		return results, nil
	}
	r.metrics.ObserveCache(false)

	results, err := r.retriever.Search(ctx, question, docID, k)
	if err != nil {
		return nil, err
	}

	r.cache.PutAt(question, docID, k, gen, results)

	return results, nil
}
