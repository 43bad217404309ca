package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/model"
	"github.com/openblock/launcher/internal/storage/contentstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestLauncher wires the full service stack against a fake
// distribution client, the way cmd/launcher does against the real one
func newTestLauncher(t *testing.T, client *fakeClient) *LauncherService {
	t.Helper()
	logger := zap.NewNop()

	instances := NewInstanceService(&InstanceConfig{
		InstancesDir:  t.TempDir(),
		DefaultMemory: model.MemoryBounds{MinMB: 1024, MaxMB: 2048},
	}, logger, nil)
	catalog := NewCatalogService(&CatalogConfig{
		Freshness:    5 * time.Second,
		FallbackFile: filepath.Join(t.TempDir(), "catalog.json"),
	}, client, logger, nil)
	manifests := NewManifestService(&ManifestConfig{OS: "linux", Arch: "amd64"}, catalog, logger)
	store := contentstore.New(t.TempDir(), logger, nil)
	provision := NewProvisionService(&ProvisionConfig{
		Workers:      4,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		AssetBaseURL: testAssetBase,
	}, store, client, manifests, logger, nil)

	return NewLauncherService(instances, manifests, provision, catalog, logger)
}

// registerVersion publishes a complete base manifest for id on the fake
// client and returns the library URL for fault injection
func registerVersion(t *testing.T, client *fakeClient, id string) string {
	t.Helper()
	artifactURL, artifactSHA := client.registerObject(id+"/client.jar", []byte("client-"+id))
	libURL, libSHA := client.registerObject(id+"/guava.jar", []byte("guava-"+id))
	idx := client.setAssetIndexObjects(t, id, testAssetBase, map[string][]byte{
		"minecraft/lang/en_us.json": []byte(`{"menu":"Menu"}`),
	})

	client.setManifest(t, model.VersionSpec{ID: id, Loader: model.LoaderNone}, manifestDoc{
		ID:         id,
		MainClass:  "net.minecraft.client.main.Main",
		Artifact:   &artifactDoc{URL: artifactURL, SHA1: artifactSHA, Size: 1},
		Libraries:  []libraryDoc{{Name: "com.google.guava:guava:32.0", Path: "com/google/guava/guava-32.0.jar", URL: libURL, SHA1: libSHA, Size: 1}},
		AssetIndex: idx,
	})
	return libURL
}

// registerForgeOverlay publishes a loader overlay for the version and
// returns the overlay library URL
func registerForgeOverlay(t *testing.T, client *fakeClient, id, loaderVersion string) string {
	t.Helper()
	forgeURL, forgeSHA := client.registerObject(id+"/forge-universal.jar", []byte("forge-"+loaderVersion))
	client.setManifest(t, model.VersionSpec{ID: id, Loader: model.LoaderForge, LoaderVersion: loaderVersion}, manifestDoc{
		ID:            id,
		LoaderVersion: loaderVersion,
		MainClass:     "net.minecraftforge.bootstrap.Bootstrap",
		Libraries:     []libraryDoc{{Name: "net.minecraftforge:forge:" + loaderVersion, Path: "net/minecraftforge/forge.jar", URL: forgeURL, SHA1: forgeSHA, Size: 1}},
	})
	return forgeURL
}

func TestLauncher_CreateUnknownVersionLeavesNothing(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.20.1")
	registerVersion(t, client, "1.20.1")
	svc := newTestLauncher(t, client)

	_, err := svc.CreateInstance(context.Background(), "Ghost", vanillaSpec("9.99.9"), model.MemoryBounds{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownVersion))
	assert.Empty(t, svc.ListInstances(), "a failed create must not register an instance")
}

func TestLauncher_CreateEmptyIDPicksLatest(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.21.0", "1.20.1")
	registerVersion(t, client, "1.21.0")
	svc := newTestLauncher(t, client)

	inst, err := svc.CreateInstance(context.Background(), "Fresh", model.VersionSpec{}, model.MemoryBounds{})
	require.NoError(t, err)
	assert.Equal(t, "1.21.0", inst.Version.ID)
	assert.False(t, inst.Ready)
}

func TestLauncher_ProvisionFlipsReady(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.20.1")
	registerVersion(t, client, "1.20.1")
	svc := newTestLauncher(t, client)

	_, err := svc.CreateInstance(context.Background(), "Survival", vanillaSpec("1.20.1"), model.MemoryBounds{})
	require.NoError(t, err)

	result, err := svc.ProvisionInstance(context.Background(), "Survival")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	inst, err := svc.GetInstance("Survival")
	require.NoError(t, err)
	assert.True(t, inst.Ready)
}

func TestLauncher_ForgePartialFailureThenRecovery(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.20.1")
	registerVersion(t, client, "1.20.1")
	forgeURL := registerForgeOverlay(t, client, "1.20.1", "47.4.4")
	svc := newTestLauncher(t, client)

	spec := model.VersionSpec{ID: "1.20.1", Loader: model.LoaderForge, LoaderVersion: "47.4.4"}
	inst, err := svc.CreateInstance(context.Background(), "Modded", spec, model.MemoryBounds{})
	require.NoError(t, err)
	assert.Equal(t, "1.20.1-forge-47.4.4", inst.Version.String())

	client.failAlways(forgeURL)
	result, err := svc.ProvisionInstance(context.Background(), "Modded")
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialFailure, result.Outcome)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "library:net.minecraftforge:forge:47.4.4", result.Failed[0].Name)

	inst, err = svc.GetInstance("Modded")
	require.NoError(t, err)
	assert.False(t, inst.Ready, "partial failure must not flip ready")

	client.clearFailure(forgeURL)
	result, err = svc.ProvisionInstance(context.Background(), "Modded")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	inst, err = svc.GetInstance("Modded")
	require.NoError(t, err)
	assert.True(t, inst.Ready)
}

func TestLauncher_CancelledProvisionStaysNotReady(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.20.1")
	registerVersion(t, client, "1.20.1")
	svc := newTestLauncher(t, client)

	_, err := svc.CreateInstance(context.Background(), "Stopped", vanillaSpec("1.20.1"), model.MemoryBounds{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := svc.ProvisionInstance(ctx, "Stopped")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, result.Outcome)

	inst, err := svc.GetInstance("Stopped")
	require.NoError(t, err)
	assert.False(t, inst.Ready)
}

func TestLauncher_TouchLaunchedRequiresReady(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.20.1")
	registerVersion(t, client, "1.20.1")
	svc := newTestLauncher(t, client)

	_, err := svc.CreateInstance(context.Background(), "Pending", vanillaSpec("1.20.1"), model.MemoryBounds{})
	require.NoError(t, err)

	err = svc.TouchLaunched("Pending")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInstanceNotReady))

	_, err = svc.ProvisionInstance(context.Background(), "Pending")
	require.NoError(t, err)
	assert.NoError(t, svc.TouchLaunched("Pending"))
}

func TestLauncher_ListVersionsNewestFirst(t *testing.T) {
	client := newFakeClient()
	client.setCatalog("1.21.0", "1.20.1", "1.19.4")
	svc := newTestLauncher(t, client)

	versions, err := svc.ListVersions(context.Background())
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "1.21.0", versions[0].ID)
	assert.Equal(t, "1.19.4", versions[2].ID)
}
