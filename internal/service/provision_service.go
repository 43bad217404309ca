package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/metrics"
	"github.com/openblock/launcher/internal/model"
	"github.com/openblock/launcher/internal/remote"
	"github.com/openblock/launcher/internal/storage/contentstore"
	"github.com/openblock/launcher/internal/util"
	"github.com/openblock/launcher/internal/util/workerpool"
	"go.uber.org/zap"
)

// ProvisionOutcome classifies how a provisioning run ended
type ProvisionOutcome string

const (
	OutcomeSuccess        ProvisionOutcome = "success"
	OutcomePartialFailure ProvisionOutcome = "partial_failure"
	OutcomeCancelled      ProvisionOutcome = "cancelled"
)

// ProvisionResult is the settled outcome of one provisioning run
type ProvisionResult struct {
	RunID    string
	Outcome  ProvisionOutcome
	Total    int
	Complete int
	Failed   []errors.FailedEntry
}

// ProgressSnapshot is a point-in-time view of a running provision,
// safe to sample from any goroutine. Completed only ever increases.
type ProgressSnapshot struct {
	RunID     string
	Completed uint64
	Total     uint64
}

// ProvisionConfig holds provisioner configuration
type ProvisionConfig struct {
	Workers      int
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	// AssetBaseURL is the root of the distribution service's
	// hash-sharded asset object area
	AssetBaseURL string
}

// run tracks the live state of one provisioning run
type run struct {
	id        string
	total     uint64
	completed uint64

	mu     sync.Mutex
	failed []errors.FailedEntry
}

func (r *run) fail(name, kind string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, errors.FailedEntry{Name: name, Kind: kind, Err: err})
}

func (r *run) done() {
	atomic.AddUint64(&r.completed, 1)
}

// ProvisionService downloads and verifies every entry of a resolved
// manifest into the shared content store and the instance's private
// tree. Tasks run on a bounded worker pool; each task is idempotent, so
// re-running a partially failed provision attempts only the missing
// entries. Failures never abort sibling tasks.
type ProvisionService struct {
	config    *ProvisionConfig
	store     *contentstore.Store
	client    remote.Client
	manifests *ManifestService
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu   sync.RWMutex
	runs map[string]*run // instance name -> active run
}

// NewProvisionService creates a provisioner
func NewProvisionService(cfg *ProvisionConfig, store *contentstore.Store, client remote.Client, manifests *ManifestService, logger *zap.Logger, m *metrics.Metrics) *ProvisionService {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.AssetBaseURL == "" {
		cfg.AssetBaseURL = "https://assets.openblock.dev"
	}
	return &ProvisionService{
		config:    cfg,
		store:     store,
		client:    client,
		manifests: manifests,
		logger:    logger,
		metrics:   m,
		runs:      make(map[string]*run),
	}
}

// Progress returns the live progress of the instance's active run.
// The zero snapshot means no run is active.
func (s *ProvisionService) Progress(instanceName string) ProgressSnapshot {
	s.mu.RLock()
	r, ok := s.runs[instanceName]
	s.mu.RUnlock()
	if !ok {
		return ProgressSnapshot{}
	}
	return ProgressSnapshot{
		RunID:     r.id,
		Completed: atomic.LoadUint64(&r.completed),
		Total:     atomic.LoadUint64(&r.total),
	}
}

// Provision materializes every manifest entry for the instance. It
// blocks until all tasks settle or ctx is cancelled. Cancellation stops
// scheduling new tasks and lets in-flight tasks finish or abort at the
// next checkpoint; the content store's atomic commit guarantees no
// partially written objects survive either way.
func (s *ProvisionService) Provision(ctx context.Context, inst *model.Instance, manifest *model.Manifest) (*ProvisionResult, error) {
	r := &run{id: uuid.NewString()}

	s.mu.Lock()
	if _, active := s.runs[inst.Name]; active {
		s.mu.Unlock()
		return nil, errors.InstanceBusy(inst.Name)
	}
	s.runs[inst.Name] = r
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.runs, inst.Name)
		s.mu.Unlock()
	}()

	start := time.Now()
	s.logger.Info("Provisioning started",
		zap.String("run_id", r.id),
		zap.String("instance", inst.Name),
		zap.String("version", manifest.Spec.String()))

	if err := ensureDirs(inst.Dirs()); err != nil {
		return nil, fmt.Errorf("create instance tree: %w", err)
	}

	// The asset index document must be fetched before asset tasks can
	// be enumerated. Its own failure counts as one failed entry rather
	// than aborting the run: library and artifact work still proceeds.
	assets, assetIndexErr := s.fetchAssetIndex(ctx, inst, manifest.AssetIndex)

	tasks := s.buildTasks(ctx, inst, manifest, assets, r)

	total := uint64(len(tasks))
	if assetIndexErr == nil {
		total++ // the asset index itself counts as one settled unit
		r.done()
	} else if !isCancel(assetIndexErr) {
		total++
		r.fail("asset-index:"+manifest.AssetIndex.ID, "asset-index", assetIndexErr)
	}
	atomic.StoreUint64(&r.total, total)

	pool := workerpool.New(&workerpool.Config{
		Name:       "provision-" + inst.Name,
		MaxWorkers: s.config.Workers,
		QueueSize:  s.config.QueueSize,
		Logger:     s.logger,
	})

	for _, t := range tasks {
		if err := pool.Submit(ctx, t); err != nil {
			// Cancelled mid-scheduling: unsubmitted tasks simply never
			// run; settled work is kept
			break
		}
	}
	pool.Wait()
	pool.Stop(5 * time.Second)

	result := &ProvisionResult{
		RunID:    r.id,
		Total:    int(atomic.LoadUint64(&r.total)),
		Complete: int(atomic.LoadUint64(&r.completed)),
		Failed:   append([]errors.FailedEntry(nil), r.failed...),
	}

	switch {
	case ctx.Err() != nil:
		result.Outcome = OutcomeCancelled
	case len(result.Failed) > 0:
		result.Outcome = OutcomePartialFailure
	default:
		result.Outcome = OutcomeSuccess
	}

	if s.metrics != nil {
		s.metrics.ProvisionRunsTotal.WithLabelValues(string(result.Outcome)).Inc()
		s.metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
		s.metrics.ProvisionTasksTotal.Add(float64(result.Total))
		s.metrics.ProvisionTasksFailed.Add(float64(len(result.Failed)))
	}

	s.logger.Info("Provisioning settled",
		zap.String("run_id", r.id),
		zap.String("instance", inst.Name),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("total", result.Total),
		zap.Int("complete", result.Complete),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// buildTasks flattens the manifest into independent download tasks.
// Native extraction runs inside its library's task, which is the whole
// ordering guarantee: extraction strictly follows its own library, and
// nothing else is ordered.
func (s *ProvisionService) buildTasks(ctx context.Context, inst *model.Instance, manifest *model.Manifest, assets []model.AssetObject, r *run) []workerpool.Task {
	var tasks []workerpool.Task

	spec := manifest.Spec
	artifactDest := filepath.Join(inst.VersionDir(), spec.String()+".jar")
	tasks = append(tasks, workerpool.Task{
		Name: "artifact:" + spec.String(),
		Fn: func(context.Context) error {
			return s.runTask(r, "artifact:"+spec.String(), "artifact", func() error {
				return s.ensureFile(ctx, manifest.Artifact.URL, manifest.Artifact.SHA1, artifactDest)
			})
		},
	})

	for _, lib := range manifest.Libraries {
		lib := lib
		name := "library:" + lib.Name
		tasks = append(tasks, workerpool.Task{
			Name: name,
			Fn: func(context.Context) error {
				return s.runTask(r, name, "library", func() error {
					dest := filepath.Join(inst.LibrariesDir(), filepath.FromSlash(lib.Path))
					if err := s.ensureFile(ctx, lib.URL, lib.SHA1, dest); err != nil {
						return err
					}
					if !lib.Native {
						return nil
					}
					return s.extractNatives(ctx, inst, lib, dest)
				})
			},
		})
	}

	for _, obj := range assets {
		obj := obj
		name := "asset:" + obj.Path
		tasks = append(tasks, workerpool.Task{
			Name: name,
			Fn: func(context.Context) error {
				return s.runTask(r, name, "asset", func() error {
					shard := strings.ToLower(obj.Hash[:2])
					dest := filepath.Join(inst.AssetObjectsDir(), shard, strings.ToLower(obj.Hash))
					return s.ensureFile(ctx, s.assetObjectURL(obj), obj.Hash, dest)
				})
			},
		})
	}

	return tasks
}

// runTask settles one unit of work, recording progress and failures.
// Cancellation is not a failure: the entry stays pending for the next
// run.
func (s *ProvisionService) runTask(r *run, name, kind string, fn func() error) error {
	err := fn()
	if err == nil {
		r.done()
		return nil
	}
	if isCancel(err) {
		return err
	}
	r.fail(name, kind, err)
	return err
}

// ensureFile makes dest a verified copy of the artifact at url. Already
// valid destinations are a no-op; otherwise the object is fetched into
// the content store (shared across instances) and copied out.
func (s *ProvisionService) ensureFile(ctx context.Context, url, sha1, dest string) error {
	if util.ValidateFileDigest(dest, sha1) {
		return nil
	}
	if !s.store.Has(sha1) {
		if _, err := s.fetchObject(ctx, url, sha1); err != nil {
			return err
		}
	}
	return s.store.CopyTo(sha1, dest)
}

// fetchObject downloads an artifact with retry and commits it to the
// content store. Transient errors retry up to MaxRetries with
// exponential backoff; an integrity mismatch is retried exactly once to
// rule out a corrupted transfer, then treated as hard failure.
func (s *ProvisionService) fetchObject(ctx context.Context, url, sha1 string) (string, error) {
	var lastErr error
	integrityRetried := false

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 0 {
			if s.metrics != nil {
				s.metrics.DownloadRetries.Inc()
			}
			backoff := s.config.RetryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		if s.metrics != nil {
			s.metrics.DownloadsTotal.Inc()
		}
		data, err := s.client.Download(ctx, url)
		if err != nil {
			if s.metrics != nil {
				s.metrics.DownloadsFailed.Inc()
			}
			if isCancel(err) {
				return "", err
			}
			lastErr = errors.DownloadFailed(url, err)
			continue
		}
		if s.metrics != nil {
			s.metrics.DownloadDuration.Observe(time.Since(start).Seconds())
			s.metrics.DownloadBytes.Add(float64(len(data)))
		}

		path, err := s.store.Put(sha1, data)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if errors.IsCode(err, errors.ErrCodeIntegrityMismatch) {
			if integrityRetried {
				return "", err
			}
			integrityRetried = true
			continue
		}
		return "", err
	}
	return "", lastErr
}

func isCancel(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

// assetObjectURL derives the download URL of an asset object from its
// hash, mirroring the distribution service's sharded object layout
func (s *ProvisionService) assetObjectURL(obj model.AssetObject) string {
	h := strings.ToLower(obj.Hash)
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.config.AssetBaseURL, "/"), h[:2], h)
}
