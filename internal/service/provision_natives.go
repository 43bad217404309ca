package service

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/openblock/launcher/internal/model"
	"go.uber.org/zap"
)

// ensureDirs creates every directory of an instance tree
func ensureDirs(dirs []string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// fetchAssetIndex downloads and verifies the asset index document,
// materializes it under the instance's index area, and expands it into
// the asset objects it references
func (s *ProvisionService) fetchAssetIndex(ctx context.Context, inst *model.Instance, ref model.AssetIndexRef) ([]model.AssetObject, error) {
	dest := filepath.Join(inst.AssetIndexesDir(), ref.ID+".json")

	if err := s.ensureFile(ctx, ref.URL, ref.SHA1, dest); err != nil {
		return nil, err
	}

	body, err := os.ReadFile(dest)
	if err != nil {
		return nil, fmt.Errorf("read asset index: %w", err)
	}
	return s.manifests.ExpandAssetIndex(ref, body)
}

// extractNatives unpacks the platform-specific binaries of a native
// library into the instance's natives directory. A marker file keyed by
// the library digest makes re-runs a no-op. Entries for platforms other
// than the current one were filtered at resolve time; the applicability
// rule is re-checked here anyway since extraction writes into the
// instance tree.
func (s *ProvisionService) extractNatives(ctx context.Context, inst *model.Instance, lib model.LibraryEntry, jarPath string) error {
	if !lib.AppliesTo(s.manifests.config.OS, s.manifests.config.Arch) {
		return nil
	}

	nativesDir := inst.NativesDir()
	marker := filepath.Join(nativesDir, ".extracted-"+strings.ToLower(lib.SHA1))
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	zr, err := zip.OpenReader(jarPath)
	if err != nil {
		return fmt.Errorf("open native archive %s: %w", lib.Name, err)
	}
	defer zr.Close()

	extracted := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// Signing metadata is not a native payload
		if strings.HasPrefix(f.Name, "META-INF/") {
			continue
		}
		if err := extractZipEntry(f, nativesDir); err != nil {
			return fmt.Errorf("extract %s from %s: %w", f.Name, lib.Name, err)
		}
		extracted++
	}

	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("write extraction marker: %w", err)
	}

	if s.metrics != nil {
		s.metrics.NativesExtracted.Inc()
	}
	s.logger.Debug("Natives extracted",
		zap.String("library", lib.Name),
		zap.Int("files", extracted))
	return nil
}

// extractZipEntry writes one archive entry under destDir, refusing
// paths that escape it
func extractZipEntry(f *zip.File, destDir string) error {
	rel := filepath.FromSlash(f.Name)
	dest := filepath.Join(destDir, rel)
	if !strings.HasPrefix(dest, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry escapes destination: %s", f.Name)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".native-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, f.Mode().Perm()|0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dest)
}
