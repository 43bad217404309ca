package service

import (
	"context"

	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/model"
	"go.uber.org/zap"
)

// LauncherService composes the registry, resolver, and provisioner into
// the instance lifecycle: create -> resolve -> provision -> ready. It is
// the surface the CLI (and any future UI) talks to.
type LauncherService struct {
	instances *InstanceService
	manifests *ManifestService
	provision *ProvisionService
	catalog   *CatalogService
	logger    *zap.Logger
}

// NewLauncherService creates the launcher facade
func NewLauncherService(instances *InstanceService, manifests *ManifestService, provision *ProvisionService, catalog *CatalogService, logger *zap.Logger) *LauncherService {
	return &LauncherService{
		instances: instances,
		manifests: manifests,
		provision: provision,
		catalog:   catalog,
		logger:    logger,
	}
}

// CreateInstance resolves the requested version first and only then
// registers the instance, so a request for an unknown version or loader
// never leaves a half-initialized record behind
func (s *LauncherService) CreateInstance(ctx context.Context, name string, spec model.VersionSpec, memory model.MemoryBounds) (*model.Instance, error) {
	if spec.ID == "" {
		snap, err := s.catalog.GetCatalog(ctx)
		if err != nil {
			return nil, err
		}
		spec.ID = snap.Latest
	}
	manifest, err := s.manifests.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	// Pin the loader version the resolver picked
	return s.instances.Create(name, manifest.Spec, memory)
}

// ProvisionInstance runs (or re-runs) provisioning for an existing
// instance. On full success the registry flips the instance ready; a
// partial failure leaves it not-ready and re-invoking attempts only the
// failed subset. A cancelled run reports Cancelled and is likewise safe
// to re-run.
func (s *LauncherService) ProvisionInstance(ctx context.Context, name string) (*ProvisionResult, error) {
	inst, err := s.instances.Get(name)
	if err != nil {
		return nil, err
	}

	if err := s.instances.Acquire(name, "provision"); err != nil {
		return nil, err
	}
	defer s.instances.Release(name)

	manifest, err := s.manifests.Resolve(ctx, inst.Version)
	if err != nil {
		return nil, err
	}

	result, err := s.provision.Provision(ctx, inst, manifest)
	if err != nil {
		return nil, err
	}

	if result.Outcome == OutcomeSuccess {
		if err := s.instances.MarkReady(name); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// DeleteInstance removes an instance and its tree
func (s *LauncherService) DeleteInstance(name string) error {
	return s.instances.Delete(name)
}

// ListInstances returns all known instances ordered by name
func (s *LauncherService) ListInstances() []*model.Instance {
	return s.instances.List()
}

// GetInstance returns one instance by name
func (s *LauncherService) GetInstance(name string) (*model.Instance, error) {
	return s.instances.Get(name)
}

// Progress samples the live progress of an active provisioning run
func (s *LauncherService) Progress(name string) ProgressSnapshot {
	return s.provision.Progress(name)
}

// ListVersions returns the catalog's release versions, newest first
func (s *LauncherService) ListVersions(ctx context.Context) ([]model.CatalogVersion, error) {
	snap, err := s.catalog.GetCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Releases(), nil
}

// TouchLaunched records a launch of a ready instance. The launch
// collaborator itself is outside this module; its contract here is that
// only a ready instance may be launched.
func (s *LauncherService) TouchLaunched(name string) error {
	inst, err := s.instances.Get(name)
	if err != nil {
		return err
	}
	if !inst.Ready {
		return errors.NewLauncherError(errors.ErrCodeInstanceNotReady,
			"instance is not ready to launch: "+name, nil).
			WithDetail("name", name)
	}
	return s.instances.Touch(name)
}
