package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "run:r1:strip:ENSG1:seurat", StripKey("r1", "ENSG1", "seurat"))
	assert.Equal(t, "run:r1:query:dimension", QueryKey("r1", "dimension"))
	assert.NotEqual(t, StripKey("r1", "a", "viridis"), StripKey("r1", "a", "magma"))
}

func TestManager(t *testing.T) {
	m, err := NewManager(Config{StripCacheSizeMB: 1, StripTTL: time.Minute, QueryCacheSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	_, ok := m.GetStrip("missing")
	assert.False(t, ok)

	require.NoError(t, m.SetStrip(StripKey("r1", "g", "seurat"), []byte("png")))
	got, ok := m.GetStrip(StripKey("r1", "g", "seurat"))
	require.True(t, ok)
	assert.Equal(t, []byte("png"), got)

	m.SetQuery(QueryKey("r1", "dimension"), []byte("{}"))
	m.SetQuery(QueryKey("r1", "vectors"), []byte("[]"))
	m.SetQuery(QueryKey("r2", "dimension"), []byte("{}"))
	assert.Equal(t, 2, m.PurgeRun("r1"))
	_, ok = m.GetQuery(QueryKey("r1", "dimension"))
	assert.False(t, ok)
	_, ok = m.GetQuery(QueryKey("r2", "dimension"))
	assert.True(t, ok)

	stats := m.Stats()
	assert.Equal(t, 1, stats["strip_cache_len"])
	assert.Equal(t, 1, stats["query_cache_len"])
}
