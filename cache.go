package accesskit

import (
	"slices"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// VersionedExpander is a RoleExpander whose result depends on a version
// that changes whenever the hierarchy is replaced.
type VersionedExpander interface {
	RoleExpander
	Version() uint64
}

// CachingExpander memoizes authority closures. Entries are keyed by the
// hierarchy version and the direct roles, so a reload never serves a
// stale closure.
type CachingExpander struct {
	next    VersionedExpander
	cache   *gocache.Cache
	ttl     time.Duration
	metrics *Metrics
}

// NewCachingExpander wraps next with a cache of the given TTL.
func NewCachingExpander(next VersionedExpander, ttl time.Duration, metrics *Metrics) *CachingExpander {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachingExpander{
		next:    next,
		cache:   gocache.New(ttl, ttl*2),
		ttl:     ttl,
		metrics: metrics,
	}
}

// Expand implements RoleExpander.
func (c *CachingExpander) Expand(roles []string) []string {
	key := closureKey(c.next.Version(), roles)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.observeClosureCache(true)
		return slices.Clone(v.([]string))
	}
	c.metrics.observeClosureCache(false)
	expanded := c.next.Expand(roles)
	c.cache.Set(key, slices.Clone(expanded), c.ttl)
	return expanded
}

// Flush drops every cached closure.
func (c *CachingExpander) Flush() {
	c.cache.Flush()
}

// Len returns the number of cached closures, including expired ones not yet evicted.
func (c *CachingExpander) Len() int {
	return c.cache.ItemCount()
}

func closureKey(version uint64, roles []string) string {
	return strconv.FormatUint(version, 10) + "|" + strings.Join(roles, "\x00")
}
