package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCatalog(t *testing.T, client *fakeClient, freshness time.Duration) *CatalogService {
	t.Helper()
	return NewCatalogService(&CatalogConfig{
		Freshness:    freshness,
		FallbackFile: filepath.Join(t.TempDir(), "catalog_snapshot.json"),
	}, client, zap.NewNop(), nil)
}

func TestCatalogService_FreshnessWindow(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.20.1", "1.19.4")
	svc := newTestCatalog(t, client, 5*time.Second)

	ctx := context.Background()
	first, err := svc.GetCatalog(ctx)
	require.NoError(t, err)
	second, err := svc.GetCatalog(ctx)
	require.NoError(t, err)

	assert.Same(t, first, second, "fresh snapshot is served without refetch")
	assert.Equal(t, 1, client.catalogCalls, "two calls within the window trigger one fetch")
}

func TestCatalogService_ExpiryRefetches(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.20.1")
	svc := newTestCatalog(t, client, 10*time.Millisecond)

	ctx := context.Background()
	_, err := svc.GetCatalog(ctx)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	_, err = svc.GetCatalog(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, client.catalogCalls)
}

func TestCatalogService_SingleFlight(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.20.1")
	client.catalogDelay = 50 * time.Millisecond
	svc := newTestCatalog(t, client, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetCatalog(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, client.catalogCalls, "concurrent callers share one in-flight fetch")
}

func TestCatalogService_StaleMemoryFallback(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.20.1")
	svc := newTestCatalog(t, client, time.Millisecond)

	ctx := context.Background()
	good, err := svc.GetCatalog(ctx)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	client.catalogErr = fmt.Errorf("connection refused")

	snap, err := svc.GetCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, good.Versions, snap.Versions, "stale in-memory snapshot served on refetch failure")
}

func TestCatalogService_DiskFallback(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.20.1", "1.19.4")

	fallback := filepath.Join(t.TempDir(), "catalog_snapshot.json")
	cfg := &CatalogConfig{Freshness: 5 * time.Second, FallbackFile: fallback}

	// First process: a successful fetch persists the snapshot
	warm := NewCatalogService(cfg, client, zap.NewNop(), nil)
	_, err := warm.GetCatalog(context.Background())
	require.NoError(t, err)

	// Second process: empty memory, remote down
	client.catalogErr = fmt.Errorf("network unreachable")
	cold := NewCatalogService(&CatalogConfig{Freshness: 5 * time.Second, FallbackFile: fallback}, client, zap.NewNop(), nil)

	snap, err := cold.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Versions, 2)
}

func TestCatalogService_Unavailable(t *testing.T) {
	client := newFakeClient()
	client.catalogErr = fmt.Errorf("network unreachable")
	svc := newTestCatalog(t, client, 5*time.Second)

	_, err := svc.GetCatalog(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCatalogUnavailable))
}

func TestCatalogService_ManifestSourceCached(t *testing.T) {
	client := newFakeClient()
	spec := model.VersionSpec{ID: "1.20.1", Loader: model.LoaderNone}
	client.setManifest(t, spec, manifestDoc{ID: "1.20.1"})
	svc := newTestCatalog(t, client, 5*time.Second)

	ctx := context.Background()
	first, err := svc.GetManifestSource(ctx, spec)
	require.NoError(t, err)
	second, err := svc.GetManifestSource(ctx, spec)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestCatalogService_ManifestSourceStaleFallback(t *testing.T) {
	client := newFakeClient()
	spec := model.VersionSpec{ID: "1.20.1", Loader: model.LoaderNone}
	client.setManifest(t, spec, manifestDoc{ID: "1.20.1"})
	svc := newTestCatalog(t, client, time.Millisecond)

	ctx := context.Background()
	first, err := svc.GetManifestSource(ctx, spec)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	client.mu.Lock()
	client.manifestErr[spec.Key()] = fmt.Errorf("gateway timeout")
	client.mu.Unlock()

	again, err := svc.GetManifestSource(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, first.Body, again.Body)
}
