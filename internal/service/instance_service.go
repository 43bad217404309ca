package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/metrics"
	"github.com/openblock/launcher/internal/model"
	"github.com/openblock/launcher/internal/validation"
	"go.uber.org/zap"
)

// InstanceConfig holds registry configuration
type InstanceConfig struct {
	// InstancesDir is the root under which every instance owns a
	// private subtree
	InstancesDir string
	// Default memory bounds applied when a create request leaves them
	// unset
	DefaultMemory model.MemoryBounds
}

// InstanceService owns the set of instance records and their directory
// trees. It is the only component that writes an instance's ready flag,
// and it persists every record change to the instance's config.json so
// the on-disk state survives restarts.
type InstanceService struct {
	config    *InstanceConfig
	validator *validation.Validator
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu        sync.RWMutex
	instances map[string]*model.Instance // normalized name -> record
	busy      map[string]string          // normalized name -> operation
}

// NewInstanceService creates an instance registry
func NewInstanceService(cfg *InstanceConfig, logger *zap.Logger, m *metrics.Metrics) *InstanceService {
	return &InstanceService{
		config:    cfg,
		validator: validation.NewValidator(),
		logger:    logger,
		metrics:   m,
		instances: make(map[string]*model.Instance),
		busy:      make(map[string]string),
	}
}

// Load scans the instances root and restores all persisted records.
// Directories without a readable config.json are skipped with a warning
// rather than failing startup.
func (s *InstanceService) Load() error {
	entries, err := os.ReadDir(s.config.InstancesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read instances directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.config.InstancesDir, e.Name())
		inst, err := readInstanceRecord(dir)
		if err != nil {
			s.logger.Warn("Skipping unreadable instance record",
				zap.String("dir", dir), zap.Error(err))
			continue
		}
		s.instances[validation.NormalizeInstanceName(inst.Name)] = inst
	}

	s.logger.Info("Instance registry loaded", zap.Int("instances", len(s.instances)))
	s.updateGauges()
	return nil
}

// Create registers a new instance with an empty tree and ready=false
func (s *InstanceService) Create(name string, spec model.VersionSpec, memory model.MemoryBounds) (*model.Instance, error) {
	if err := s.validator.ValidateInstanceName(name); err != nil {
		return nil, err
	}
	if memory == (model.MemoryBounds{}) {
		memory = s.config.DefaultMemory
	}

	key := validation.NormalizeInstanceName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[key]; exists {
		return nil, errors.DuplicateName(name)
	}

	now := time.Now()
	inst := &model.Instance{
		Name:      name,
		Version:   spec,
		Memory:    memory,
		Ready:     false,
		CreatedAt: now,
		LastUsed:  now,
		Dir:       filepath.Join(s.config.InstancesDir, name),
	}

	if err := os.MkdirAll(inst.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create instance directory: %w", err)
	}
	if err := writeInstanceRecord(inst); err != nil {
		os.RemoveAll(inst.Dir)
		return nil, err
	}

	s.instances[key] = inst
	s.updateGauges()

	s.logger.Info("Instance created",
		zap.String("name", name),
		zap.String("version", spec.String()))
	return inst, nil
}

// Get returns the instance with the given name
func (s *InstanceService) Get(name string) (*model.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[validation.NormalizeInstanceName(name)]
	if !ok {
		return nil, errors.NotFound(name)
	}
	return inst, nil
}

// List returns all instances ordered by name
func (s *InstanceService) List() []*model.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Delete removes an instance and its private tree. Shared content
// store objects are never touched. Fails with InstanceBusy while the
// instance is being provisioned or launched.
func (s *InstanceService) Delete(name string) error {
	key := validation.NormalizeInstanceName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[key]
	if !ok {
		return errors.NotFound(name)
	}
	if op, busy := s.busy[key]; busy {
		return errors.InstanceBusy(name).WithDetail("operation", op)
	}

	if err := os.RemoveAll(inst.Dir); err != nil {
		return fmt.Errorf("remove instance tree: %w", err)
	}
	delete(s.instances, key)
	s.updateGauges()

	s.logger.Info("Instance deleted", zap.String("name", name))
	return nil
}

// MarkReady flips the instance's ready flag. Only a successful
// provisioner run may call this; everywhere else ready=false simply
// means "not launchable".
func (s *InstanceService) MarkReady(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[validation.NormalizeInstanceName(name)]
	if !ok {
		return errors.NotFound(name)
	}
	if inst.Ready {
		return nil
	}
	inst.Ready = true
	if err := writeInstanceRecord(inst); err != nil {
		inst.Ready = false
		return err
	}
	s.updateGauges()

	s.logger.Info("Instance ready", zap.String("name", name))
	return nil
}

// Touch updates the instance's last-used timestamp
func (s *InstanceService) Touch(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[validation.NormalizeInstanceName(name)]
	if !ok {
		return errors.NotFound(name)
	}
	inst.LastUsed = time.Now()
	return writeInstanceRecord(inst)
}

// Acquire marks the instance busy with the named operation, failing if
// another operation holds it
func (s *InstanceService) Acquire(name, operation string) error {
	key := validation.NormalizeInstanceName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[key]; !ok {
		return errors.NotFound(name)
	}
	if op, busy := s.busy[key]; busy {
		return errors.InstanceBusy(name).WithDetail("operation", op)
	}
	s.busy[key] = operation
	return nil
}

// Release clears the busy marker set by Acquire
func (s *InstanceService) Release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, validation.NormalizeInstanceName(name))
}

// updateGauges refreshes registry metrics; callers hold s.mu
func (s *InstanceService) updateGauges() {
	if s.metrics == nil {
		return
	}
	ready := 0
	for _, inst := range s.instances {
		if inst.Ready {
			ready++
		}
	}
	s.metrics.InstancesTotal.Set(float64(len(s.instances)))
	s.metrics.InstancesReady.Set(float64(ready))
}

// writeInstanceRecord persists the instance's config.json atomically
func writeInstanceRecord(inst *model.Instance) error {
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("encode instance record: %w", err)
	}

	tmp, err := os.CreateTemp(inst.Dir, ".config-*")
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
	return os.Rename(tmpName, inst.ConfigPath())
}

// readInstanceRecord loads an instance's persisted record from dir
func readInstanceRecord(dir string) (*model.Instance, error) {
	data, err := os.ReadFile(filepath.Join(dir, model.ConfigFileName))
	if err != nil {
		return nil, err
	}
	var inst model.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode instance record: %w", err)
	}
	if inst.Name == "" {
		return nil, fmt.Errorf("instance record missing name")
	}
	inst.Dir = dir
	return &inst, nil
}
