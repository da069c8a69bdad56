package matcher

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

// Caching memoizes the results of an inner matcher per candidate pool and
// raw name.
type Caching struct {
	inner Matcher
	cache *lru.Cache[string, []*singlecell.Sample]
}

// NewCaching wraps inner with an LRU cache holding up to size results.
func NewCaching(inner Matcher, size int) (*Caching, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, []*singlecell.Sample](size)
	if err != nil {
		return nil, err
	}
	return &Caching{inner: inner, cache: c}, nil
}

func (c *Caching) Match(candidates []*singlecell.Sample, name string) []*singlecell.Sample {
	key := poolKey(candidates) + "\x00" + name
	if found, ok := c.cache.Get(key); ok {
		return found
	}
	found := c.inner.Match(candidates, name)
	c.cache.Add(key, found)
	return found
}

func poolKey(candidates []*singlecell.Sample) string {
	var b strings.Builder
	for _, s := range candidates {
		b.WriteString(s.ID)
		b.WriteByte('\x1f')
	}
	return b.String()
}
