package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is the distribution-service capability the launcher core
// depends on. The wire protocol behind it is not this package's concern
// beyond the reference HTTP implementation below; services accept the
// interface so tests can substitute an in-memory fake.
type Client interface {
	// FetchCatalog retrieves the current remote version catalog
	FetchCatalog(ctx context.Context) (*model.CatalogSnapshot, error)
	// FetchManifestSource retrieves the raw manifest document for a
	// version spec (base manifest for Loader=vanilla, loader overlay
	// otherwise)
	FetchManifestSource(ctx context.Context, spec model.VersionSpec) (*model.RawManifestSource, error)
	// Download retrieves an artifact by URL
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPClientConfig holds HTTP client configuration
type HTTPClientConfig struct {
	CatalogURL     string
	RequestTimeout time.Duration
	// DownloadRate caps artifact requests per second across all workers
	// to stay under the distribution service's rate limits
	DownloadRate  float64
	DownloadBurst int
}

// HTTPClient is the production Client backed by the distribution
// service's HTTP endpoints
type HTTPClient struct {
	cfg     HTTPClientConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPClient creates an HTTP distribution client
func NewHTTPClient(cfg HTTPClientConfig, logger *zap.Logger) *HTTPClient {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.DownloadRate <= 0 {
		cfg.DownloadRate = 64
	}
	if cfg.DownloadBurst <= 0 {
		cfg.DownloadBurst = 16
	}
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.DownloadRate), cfg.DownloadBurst),
		logger:  logger,
	}
}

// FetchCatalog retrieves and decodes the remote version catalog
func (c *HTTPClient) FetchCatalog(ctx context.Context) (*model.CatalogSnapshot, error) {
	body, err := c.get(ctx, c.cfg.CatalogURL)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}

	var snap model.CatalogSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	snap.FetchedAt = time.Now()

	c.logger.Debug("Catalog fetched",
		zap.Int("versions", len(snap.Versions)),
		zap.String("latest", snap.Latest))
	return &snap, nil
}

// FetchManifestSource retrieves the raw manifest document for spec.
// Base manifests are addressed by version ID; loader overlays by
// version ID plus loader and loader version.
func (c *HTTPClient) FetchManifestSource(ctx context.Context, spec model.VersionSpec) (*model.RawManifestSource, error) {
	base, err := url.Parse(c.cfg.CatalogURL)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog URL: %w", err)
	}

	var ref *url.URL
	if spec.Loader == model.LoaderNone || spec.Loader == "" {
		ref, err = base.Parse(fmt.Sprintf("manifests/%s.json", url.PathEscape(spec.ID)))
	} else {
		// An unset loader version asks the service for its latest
		// compatible build
		loaderVersion := spec.LoaderVersion
		if loaderVersion == "" {
			loaderVersion = "latest"
		}
		ref, err = base.Parse(fmt.Sprintf("loaders/%s/%s/%s.json",
			url.PathEscape(string(spec.Loader)),
			url.PathEscape(spec.ID),
			url.PathEscape(loaderVersion)))
	}
	if err != nil {
		return nil, fmt.Errorf("build manifest URL: %w", err)
	}

	body, err := c.get(ctx, ref.String())
	if err != nil {
		return nil, fmt.Errorf("fetch manifest source for %s: %w", spec, err)
	}
	return &model.RawManifestSource{Spec: spec, Body: body}, nil
}

// Download retrieves an artifact, waiting on the shared rate limiter
// before issuing the request
func (c *HTTPClient) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.get(ctx, rawURL)
}

func (c *HTTPClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusNotFound {
			// A definitive answer, not a transport failure
			return nil, errors.NewLauncherError(errors.ErrCodeNotFound,
				fmt.Sprintf("GET %s: resource not found", rawURL), nil)
		}
		return nil, fmt.Errorf("GET %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
