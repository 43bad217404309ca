package contentstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/metrics"
	"github.com/openblock/launcher/internal/util"
	"go.uber.org/zap"
)

// Store is content-addressed, write-once blob storage shared by every
// instance. Objects are committed by atomic rename, so the presence of
// the final path is the only readiness signal: a reader never observes
// a partially written object, and concurrent writers of the same hash
// converge on the same file without locking.
type Store struct {
	root    string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a content store rooted at root. The directory is created
// on first write; metrics may be nil.
func New(root string, logger *zap.Logger, m *metrics.Metrics) *Store {
	return &Store{root: root, logger: logger, metrics: m}
}

// Path returns the final object path for a digest without checking
// existence. Layout is sharded by the first two digest characters to
// bound directory fan-out.
func (s *Store) Path(hash string) string {
	hash = strings.ToLower(hash)
	return filepath.Join(s.root, hash[:2], hash)
}

// Put stores data under the expected digest. The bytes are written to a
// temporary file, hashed, and renamed into place only when the computed
// digest matches; a mismatch discards the temporary file and returns an
// IntegrityMismatch error. Re-putting an existing valid object is a
// no-op.
func (s *Store) Put(hash string, data []byte) (string, error) {
	if !util.ValidDigest(hash) {
		return "", fmt.Errorf("invalid content digest: %q", hash)
	}
	final := s.Path(hash)

	// Fast path: object already committed
	if util.ValidateFileDigest(final, hash) {
		if s.metrics != nil {
			s.metrics.StoreObjectsReused.Inc()
		}
		return final, nil
	}

	actual := util.ComputeDigest(data)
	if !strings.EqualFold(actual, hash) {
		if s.metrics != nil {
			s.metrics.StoreIntegrityFails.Inc()
		}
		return "", errors.IntegrityMismatch(final, strings.ToLower(hash), actual)
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), ".put-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp object: %w", err)
	}

	// Rename is the commit point
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit object: %w", err)
	}

	if s.metrics != nil {
		s.metrics.StoreObjectsWritten.Inc()
		s.metrics.StoreBytesWritten.Add(float64(len(data)))
	}
	s.logger.Debug("Object stored",
		zap.String("hash", strings.ToLower(hash)),
		zap.Int("size", len(data)))
	return final, nil
}

// Get returns the path of a committed object, or a NotFound error
func (s *Store) Get(hash string) (string, error) {
	if !util.ValidDigest(hash) {
		return "", fmt.Errorf("invalid content digest: %q", hash)
	}
	final := s.Path(hash)
	if _, err := os.Stat(final); err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewLauncherError(errors.ErrCodeNotFound,
				fmt.Sprintf("object not found: %s", strings.ToLower(hash)), nil)
		}
		return "", err
	}
	return final, nil
}

// Has reports whether an object is committed, without verifying
// content. A malformed digest is simply not present.
func (s *Store) Has(hash string) bool {
	if !util.ValidDigest(hash) {
		return false
	}
	_, err := os.Stat(s.Path(hash))
	return err == nil
}

// Verify re-hashes the object at path and compares against hash
func (s *Store) Verify(hash, path string) bool {
	return util.ValidateFileDigest(path, hash)
}

// CopyTo copies a committed object into dest, creating parent
// directories. Used to materialize store objects inside an instance's
// private tree.
func (s *Store) CopyTo(hash, dest string) error {
	src, err := s.Get(hash)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".copy-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("copy object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
