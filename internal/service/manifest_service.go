package service

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"

	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/model"
	"github.com/openblock/launcher/internal/util"
	"go.uber.org/zap"
)

// Wire shapes of the distribution service's manifest documents. Parsed
// strictly: a document missing required fields is rejected as malformed
// rather than resolved into a manifest with holes.

type rawArtifact struct {
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

type rawRule struct {
	OS   string `json:"os,omitempty"`
	Arch string `json:"arch,omitempty"`
}

type rawLibrary struct {
	Name   string    `json:"name"`
	Path   string    `json:"path"`
	URL    string    `json:"url"`
	SHA1   string    `json:"sha1"`
	Size   int64     `json:"size"`
	Native bool      `json:"native,omitempty"`
	Rules  []rawRule `json:"rules,omitempty"`
}

type rawAssetIndex struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

type rawManifest struct {
	ID            string         `json:"id"`
	LoaderVersion string         `json:"loaderVersion,omitempty"`
	MainClass     string         `json:"mainClass,omitempty"`
	Artifact      *rawArtifact   `json:"artifact,omitempty"`
	Libraries     []rawLibrary   `json:"libraries"`
	AssetIndex    *rawAssetIndex `json:"assetIndex,omitempty"`
}

type rawAssetObject struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

type rawAssetIndexDoc struct {
	Objects map[string]rawAssetObject `json:"objects"`
}

// ManifestConfig holds resolver configuration
type ManifestConfig struct {
	// OS and Arch override the platform the applicability rules are
	// evaluated against; empty means the current runtime platform
	OS   string
	Arch string
}

// ManifestService resolves a VersionSpec into an immutable Manifest by
// combining the base catalog manifest with the loader overlay, then
// filtering entries by platform applicability. Resolution performs no
// I/O beyond the catalog service's fetches, so resolving the same spec
// against the same snapshots is idempotent.
type ManifestService struct {
	config  *ManifestConfig
	catalog *CatalogService
	logger  *zap.Logger
}

// NewManifestService creates a manifest resolver
func NewManifestService(cfg *ManifestConfig, catalog *CatalogService, logger *zap.Logger) *ManifestService {
	if cfg == nil {
		cfg = &ManifestConfig{}
	}
	if cfg.OS == "" {
		cfg.OS = runtime.GOOS
	}
	if cfg.Arch == "" {
		cfg.Arch = runtime.GOARCH
	}
	return &ManifestService{config: cfg, catalog: catalog, logger: logger}
}

// Resolve produces the full dependency manifest for spec
func (s *ManifestService) Resolve(ctx context.Context, spec model.VersionSpec) (*model.Manifest, error) {
	if spec.Loader == "" {
		spec.Loader = model.LoaderNone
	}
	if !spec.Loader.Valid() {
		return nil, errors.UnsupportedLoader(spec.ID, string(spec.Loader))
	}

	snap, err := s.catalog.GetCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Find(spec.ID); !ok {
		return nil, errors.UnknownVersion(spec.ID)
	}

	baseSrc, err := s.catalog.GetManifestSource(ctx, model.VersionSpec{ID: spec.ID, Loader: model.LoaderNone})
	if err != nil {
		return nil, err
	}
	base, err := parseManifest(baseSrc)
	if err != nil {
		return nil, err
	}
	if base.Artifact == nil || base.AssetIndex == nil {
		return nil, errors.UpstreamManifestMalformed(spec.ID, fmt.Errorf("base manifest missing artifact or asset index"))
	}

	merged := *base
	if spec.Loader != model.LoaderNone {
		overlaySrc, err := s.catalog.GetManifestSource(ctx, spec)
		if err != nil {
			// Only a definitive not-found means the loader has no build
			// for this version; a transport failure stays a transport
			// failure so the request can simply be retried
			if errors.IsCode(err, errors.ErrCodeNotFound) {
				return nil, errors.UnsupportedLoader(spec.ID, string(spec.Loader)).WithDetail("cause", err.Error())
			}
			return nil, err
		}
		overlay, err := parseManifest(overlaySrc)
		if err != nil {
			return nil, err
		}
		// Overlay libraries are appended, never replace base entries;
		// the overlay may override the asset index and launch artifact
		merged.Libraries = append(append([]rawLibrary{}, base.Libraries...), overlay.Libraries...)
		if overlay.AssetIndex != nil {
			merged.AssetIndex = overlay.AssetIndex
		}
		if overlay.Artifact != nil {
			merged.Artifact = overlay.Artifact
		}
		if overlay.MainClass != "" {
			merged.MainClass = overlay.MainClass
		}
		if spec.LoaderVersion == "" {
			// Auto-picked by the service; the overlay names what it served
			spec.LoaderVersion = overlay.LoaderVersion
		}
	}

	manifest := &model.Manifest{
		Spec:      spec,
		MainClass: merged.MainClass,
		Artifact: model.MainArtifact{
			URL:  merged.Artifact.URL,
			SHA1: merged.Artifact.SHA1,
			Size: merged.Artifact.Size,
		},
		AssetIndex: model.AssetIndexRef{
			ID:   merged.AssetIndex.ID,
			URL:  merged.AssetIndex.URL,
			SHA1: merged.AssetIndex.SHA1,
			Size: merged.AssetIndex.Size,
		},
	}

	for _, lib := range merged.Libraries {
		entry := model.LibraryEntry{
			Name:   lib.Name,
			Path:   lib.Path,
			URL:    lib.URL,
			SHA1:   lib.SHA1,
			Size:   lib.Size,
			Native: lib.Native,
		}
		for _, r := range lib.Rules {
			entry.Rules = append(entry.Rules, model.PlatformRule{OS: r.OS, Arch: r.Arch})
		}
		// Entries for other platforms are excluded, not errors
		if !entry.AppliesTo(s.config.OS, s.config.Arch) {
			continue
		}
		manifest.Libraries = append(manifest.Libraries, entry)
	}

	s.logger.Debug("Manifest resolved",
		zap.String("spec", spec.String()),
		zap.Int("libraries", len(manifest.Libraries)),
		zap.Int("natives", len(manifest.Natives())))
	return manifest, nil
}

// ExpandAssetIndex parses a downloaded asset index document into the
// asset objects it references, sorted by path for deterministic task
// ordering
func (s *ManifestService) ExpandAssetIndex(ref model.AssetIndexRef, body []byte) ([]model.AssetObject, error) {
	var doc rawAssetIndexDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.UpstreamManifestMalformed("asset index "+ref.ID, err)
	}
	if doc.Objects == nil {
		return nil, errors.UpstreamManifestMalformed("asset index "+ref.ID, fmt.Errorf("missing objects map"))
	}

	objects := make([]model.AssetObject, 0, len(doc.Objects))
	for path, obj := range doc.Objects {
		if !util.ValidDigest(obj.Hash) {
			return nil, errors.UpstreamManifestMalformed("asset index "+ref.ID,
				fmt.Errorf("asset %s has invalid hash %q", path, obj.Hash))
		}
		objects = append(objects, model.AssetObject{Path: path, Hash: obj.Hash, Size: obj.Size})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })
	return objects, nil
}

// parseManifest decodes a raw manifest source, rejecting documents that
// do not fit the expected shape
func parseManifest(src *model.RawManifestSource) (*rawManifest, error) {
	var m rawManifest
	if err := json.Unmarshal(src.Body, &m); err != nil {
		return nil, errors.UpstreamManifestMalformed(src.Spec.String(), err)
	}
	if m.ID == "" {
		return nil, errors.UpstreamManifestMalformed(src.Spec.String(), fmt.Errorf("missing version id"))
	}
	for _, lib := range m.Libraries {
		if lib.Path == "" || lib.URL == "" || !util.ValidDigest(lib.SHA1) {
			return nil, errors.UpstreamManifestMalformed(src.Spec.String(),
				fmt.Errorf("library %q missing path, url, or digest", lib.Name))
		}
	}
	if m.Artifact != nil && !util.ValidDigest(m.Artifact.SHA1) {
		return nil, errors.UpstreamManifestMalformed(src.Spec.String(), fmt.Errorf("artifact has invalid digest"))
	}
	if m.AssetIndex != nil && !util.ValidDigest(m.AssetIndex.SHA1) {
		return nil, errors.UpstreamManifestMalformed(src.Spec.String(), fmt.Errorf("asset index has invalid digest"))
	}
	return &m, nil
}
