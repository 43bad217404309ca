package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/metrics"
	"github.com/openblock/launcher/internal/model"
	"github.com/openblock/launcher/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// catalogKey is the singleflight key for whole-catalog refetches
const catalogKey = "catalog"

// CatalogConfig holds catalog cache configuration
type CatalogConfig struct {
	// Freshness is the in-memory validity window; entries older than
	// this are re-validated against the distribution service
	Freshness time.Duration
	// FallbackFile is the durable snapshot consulted only when both the
	// live fetch and the in-memory snapshot are unavailable
	FallbackFile string
}

type cachedSource struct {
	source    *model.RawManifestSource
	fetchedAt time.Time
}

// CatalogService caches the remote version catalog and raw manifest
// sources. Concurrent callers during a refetch share one in-flight
// request; a failed refetch falls back to the last good in-memory
// snapshot, then to the on-disk snapshot, before surfacing
// CatalogUnavailable.
type CatalogService struct {
	config  *CatalogConfig
	client  remote.Client
	logger  *zap.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu        sync.RWMutex
	snapshot  *model.CatalogSnapshot
	fetchedAt time.Time
	sources   map[string]cachedSource
}

// NewCatalogService creates a catalog cache service. The cache starts
// empty; metrics may be nil.
func NewCatalogService(cfg *CatalogConfig, client remote.Client, logger *zap.Logger, m *metrics.Metrics) *CatalogService {
	if cfg.Freshness <= 0 {
		cfg.Freshness = 5 * time.Second
	}
	return &CatalogService{
		config:  cfg,
		client:  client,
		logger:  logger,
		metrics: m,
		sources: make(map[string]cachedSource),
	}
}

// GetCatalog returns the current catalog snapshot, refetching when the
// in-memory copy has aged past the freshness window
func (s *CatalogService) GetCatalog(ctx context.Context) (*model.CatalogSnapshot, error) {
	s.mu.RLock()
	snap, fetchedAt := s.snapshot, s.fetchedAt
	s.mu.RUnlock()

	if snap != nil && time.Since(fetchedAt) < s.config.Freshness {
		s.count(func(m *metrics.Metrics) { m.CatalogHitsTotal.Inc() })
		return snap, nil
	}
	s.count(func(m *metrics.Metrics) { m.CatalogMissesTotal.Inc() })

	v, err, _ := s.group.Do(catalogKey, func() (interface{}, error) {
		return s.refetchCatalog(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.CatalogSnapshot), nil
}

// refetchCatalog fetches a new snapshot, falling back through the chain
// on failure. Runs inside singleflight: at most one copy at a time.
func (s *CatalogService) refetchCatalog(ctx context.Context) (*model.CatalogSnapshot, error) {
	s.count(func(m *metrics.Metrics) { m.CatalogRefreshTotal.Inc() })

	snap, err := s.client.FetchCatalog(ctx)
	if err == nil {
		s.mu.Lock()
		s.snapshot = snap
		s.fetchedAt = time.Now()
		s.mu.Unlock()

		if werr := s.writeFallback(snap); werr != nil {
			s.logger.Warn("Failed to write catalog fallback snapshot", zap.Error(werr))
		}
		return snap, nil
	}

	s.count(func(m *metrics.Metrics) { m.CatalogRefreshFailed.Inc() })
	s.logger.Warn("Catalog refetch failed", zap.Error(err))

	// Stale in-memory snapshot beats no snapshot
	s.mu.RLock()
	stale := s.snapshot
	s.mu.RUnlock()
	if stale != nil {
		s.count(func(m *metrics.Metrics) { m.CatalogFallbacks.Inc() })
		s.logger.Info("Serving stale in-memory catalog snapshot",
			zap.Time("fetched_at", stale.FetchedAt))
		return stale, nil
	}

	if disk, derr := s.readFallback(); derr == nil {
		s.count(func(m *metrics.Metrics) { m.CatalogFallbacks.Inc() })
		s.logger.Info("Serving on-disk catalog snapshot",
			zap.Time("fetched_at", disk.FetchedAt))
		s.mu.Lock()
		if s.snapshot == nil {
			s.snapshot = disk
			// fetchedAt stays zero so the next call re-validates
		}
		s.mu.Unlock()
		return disk, nil
	}

	return nil, errors.CatalogUnavailable(err)
}

// GetManifestSource returns the raw manifest document for spec, cached
// under the same freshness window as the catalog. A fetch failure falls
// back to the last good in-memory copy when one exists.
func (s *CatalogService) GetManifestSource(ctx context.Context, spec model.VersionSpec) (*model.RawManifestSource, error) {
	key := spec.Key()

	s.mu.RLock()
	cached, ok := s.sources[key]
	s.mu.RUnlock()

	if ok && time.Since(cached.fetchedAt) < s.config.Freshness {
		s.count(func(m *metrics.Metrics) { m.CatalogHitsTotal.Inc() })
		return cached.source, nil
	}
	s.count(func(m *metrics.Metrics) { m.CatalogMissesTotal.Inc() })

	v, err, _ := s.group.Do("source:"+key, func() (interface{}, error) {
		src, ferr := s.client.FetchManifestSource(ctx, spec)
		if ferr != nil {
			s.mu.RLock()
			stale, has := s.sources[key]
			s.mu.RUnlock()
			if has {
				s.count(func(m *metrics.Metrics) { m.CatalogFallbacks.Inc() })
				return stale.source, nil
			}
			return nil, ferr
		}

		s.mu.Lock()
		s.sources[key] = cachedSource{source: src, fetchedAt: time.Now()}
		s.mu.Unlock()
		return src, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.RawManifestSource), nil
}

// writeFallback persists snap as the durable catalog fallback, written
// atomically so a crashed write never corrupts the previous snapshot
func (s *CatalogService) writeFallback(snap *model.CatalogSnapshot) error {
	if s.config.FallbackFile == "" {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode catalog snapshot: %w", err)
	}

	dir := filepath.Dir(s.config.FallbackFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".catalog-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.config.FallbackFile)
}

// readFallback loads the durable catalog snapshot
func (s *CatalogService) readFallback() (*model.CatalogSnapshot, error) {
	if s.config.FallbackFile == "" {
		return nil, fmt.Errorf("no fallback file configured")
	}
	data, err := os.ReadFile(s.config.FallbackFile)
	if err != nil {
		return nil, err
	}
	var snap model.CatalogSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode catalog fallback: %w", err)
	}
	return &snap, nil
}

func (s *CatalogService) count(fn func(*metrics.Metrics)) {
	if s.metrics != nil {
		fn(s.metrics)
	}
}
