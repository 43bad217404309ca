package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/model"
	"github.com/openblock/launcher/internal/util"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory distribution-service client. Objects are
// registered by URL; failures are injected per URL as a countdown of
// attempts that error before one succeeds.
type fakeClient struct {
	mu sync.Mutex

	catalog      *model.CatalogSnapshot
	catalogErr   error
	catalogCalls int
	catalogDelay time.Duration

	manifests   map[string][]byte
	manifestErr map[string]error

	objects       map[string][]byte
	failures      map[string]int
	downloadCalls map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		manifests:     make(map[string][]byte),
		manifestErr:   make(map[string]error),
		objects:       make(map[string][]byte),
		failures:      make(map[string]int),
		downloadCalls: make(map[string]int),
	}
}

func (f *fakeClient) FetchCatalog(ctx context.Context) (*model.CatalogSnapshot, error) {
	f.mu.Lock()
	delay := f.catalogDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalogCalls++
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	if f.catalog == nil {
		return nil, fmt.Errorf("no catalog registered")
	}
	snap := *f.catalog
	snap.FetchedAt = time.Now()
	return &snap, nil
}

func (f *fakeClient) FetchManifestSource(ctx context.Context, spec model.VersionSpec) (*model.RawManifestSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := spec.Key()
	if err, ok := f.manifestErr[key]; ok {
		return nil, err
	}
	body, ok := f.manifests[key]
	if !ok {
		return nil, errors.NewLauncherError(errors.ErrCodeNotFound,
			fmt.Sprintf("no manifest source for %s", key), nil)
	}
	return &model.RawManifestSource{Spec: spec, Body: body}, nil
}

func (f *fakeClient) Download(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls[url]++
	if remaining := f.failures[url]; remaining != 0 {
		if remaining > 0 {
			f.failures[url] = remaining - 1
		}
		return nil, fmt.Errorf("simulated network fault for %s", url)
	}
	data, ok := f.objects[url]
	if !ok {
		return nil, fmt.Errorf("404 for %s", url)
	}
	return data, nil
}

func (f *fakeClient) calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloadCalls[url]
}

func (f *fakeClient) failNext(url string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = times
}

// failAlways makes every download of url fail until cleared
func (f *fakeClient) failAlways(url string) {
	f.failNext(url, -1)
}

func (f *fakeClient) clearFailure(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, url)
}

// setCatalog registers a catalog built from version IDs, all on the
// release channel
func (f *fakeClient) setCatalog(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := &model.CatalogSnapshot{}
	for _, id := range ids {
		snap.Versions = append(snap.Versions, model.CatalogVersion{
			ID:          id,
			Channel:     model.ChannelRelease,
			ManifestURL: "https://meta.test/manifests/" + id + ".json",
		})
	}
	if len(ids) > 0 {
		snap.Latest = ids[0]
	}
	f.catalog = snap
}

// registerObject registers artifact bytes and returns (url, digest)
func (f *fakeClient) registerObject(name string, data []byte) (string, string) {
	url := "https://files.test/" + name
	f.mu.Lock()
	f.objects[url] = data
	f.mu.Unlock()
	return url, util.ComputeDigest(data)
}

// registerAsset registers asset bytes under the sharded asset URL
// layout used by the provisioner
func (f *fakeClient) registerAsset(base string, data []byte) string {
	hash := util.ComputeDigest(data)
	url := fmt.Sprintf("%s/%s/%s", base, hash[:2], hash)
	f.mu.Lock()
	f.objects[url] = data
	f.mu.Unlock()
	return hash
}

// manifest document builders shared by resolver and provisioner tests

type manifestDoc struct {
	ID            string          `json:"id"`
	LoaderVersion string          `json:"loaderVersion,omitempty"`
	MainClass     string          `json:"mainClass,omitempty"`
	Artifact      *artifactDoc    `json:"artifact,omitempty"`
	Libraries     []libraryDoc    `json:"libraries"`
	AssetIndex    *assetIndexDoc  `json:"assetIndex,omitempty"`
}

type artifactDoc struct {
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

type libraryDoc struct {
	Name   string    `json:"name"`
	Path   string    `json:"path"`
	URL    string    `json:"url"`
	SHA1   string    `json:"sha1"`
	Size   int64     `json:"size"`
	Native bool      `json:"native,omitempty"`
	Rules  []ruleDoc `json:"rules,omitempty"`
}

type ruleDoc struct {
	OS   string `json:"os,omitempty"`
	Arch string `json:"arch,omitempty"`
}

type assetIndexDoc struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

// setManifest encodes and registers a manifest document for spec
func (f *fakeClient) setManifest(t *testing.T, spec model.VersionSpec, doc manifestDoc) {
	t.Helper()
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	f.mu.Lock()
	f.manifests[spec.Key()] = body
	f.mu.Unlock()
}

// setAssetIndexObjects registers an asset index document listing the
// given logical-path -> bytes pairs, returning the index reference doc
func (f *fakeClient) setAssetIndexObjects(t *testing.T, id, assetBase string, assets map[string][]byte) *assetIndexDoc {
	t.Helper()
	objects := make(map[string]map[string]interface{})
	for path, data := range assets {
		hash := f.registerAsset(assetBase, data)
		objects[path] = map[string]interface{}{"hash": hash, "size": len(data)}
	}
	body, err := json.Marshal(map[string]interface{}{"objects": objects})
	require.NoError(t, err)

	url, sha := f.registerObject("indexes/"+id+".json", body)
	return &assetIndexDoc{ID: id, URL: url, SHA1: sha, Size: int64(len(body))}
}
