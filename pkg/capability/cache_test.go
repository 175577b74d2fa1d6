package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	byID := map[string]*Manifest{
		"cap-search": validManifest(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/capabilities/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		id := r.URL.Path[len("/capabilities/"):]
		m, ok := byID[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(m)
	})
	mux.HandleFunc("/capabilities", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		items := make([]*Manifest, 0, len(byID))
		for _, m := range byID {
			items = append(items, m)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCacheGetByID(t *testing.T) {
	var hits atomic.Int64
	srv := registryServer(t, &hits)
	cache := NewCache(srv.URL)

	m, err := cache.Get(context.Background(), "cap-search")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "web.search", m.Name)
	assert.False(t, m.Stub)

	// Second lookup is served from cache.
	_, err = cache.Get(context.Background(), "cap-search")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestCacheGetByNameFallback(t *testing.T) {
	var hits atomic.Int64
	srv := registryServer(t, &hits)
	cache := NewCache(srv.URL)

	m, err := cache.Get(context.Background(), "web.search")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "cap-search", m.ID)
}

func TestCacheGetMissing(t *testing.T) {
	var hits atomic.Int64
	srv := registryServer(t, &hits)
	cache := NewCache(srv.URL)

	m, err := cache.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestCacheStubFallback(t *testing.T) {
	cache := NewCache("http://127.0.0.1:1") // nothing listens here

	m, err := cache.Get(context.Background(), "cap-offline")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.Stub)
	assert.Equal(t, "stub", m.Provider)
	assert.Equal(t, StatusActive, m.Status)
	assert.Equal(t, "stub:cap-offline", m.Name)
}

func TestCacheStubFallbackDisabled(t *testing.T) {
	cache := NewCache("http://127.0.0.1:1", WithStubFallback(false))

	m, err := cache.Get(context.Background(), "cap-offline")
	assert.Error(t, err)
	assert.Nil(t, m)
}

func TestCacheTTLExpiry(t *testing.T) {
	var hits atomic.Int64
	srv := registryServer(t, &hits)
	cache := NewCache(srv.URL, WithTTL(10*time.Millisecond))

	_, err := cache.Get(context.Background(), "cap-search")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = cache.Get(context.Background(), "cap-search")
	require.NoError(t, err)

	assert.Equal(t, int64(2), hits.Load())
}

func TestCacheInvalidate(t *testing.T) {
	var hits atomic.Int64
	srv := registryServer(t, &hits)
	cache := NewCache(srv.URL)

	_, err := cache.Get(context.Background(), "cap-search")
	require.NoError(t, err)
	cache.Invalidate("cap-search")
	_, err = cache.Get(context.Background(), "cap-search")
	require.NoError(t, err)

	assert.Equal(t, int64(2), hits.Load())
}
