package bundle

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/errors"
)

// DefaultIntermediates are the build artifacts Clean removes.
var DefaultIntermediates = []string{"*.o", "*.wasm", "*.wat"}

// DistOption configures a Dist.
type DistOption func(*Dist)

// WithIntermediates overrides the patterns Clean removes under the build
// directory. Patterns match basenames, as in filepath.Match.
func WithIntermediates(patterns ...string) DistOption {
	return func(d *Dist) {
		d.intermediates = patterns
	}
}

// WithDistLogger sets the logger. A nil logger disables logging.
func WithDistLogger(logger *zap.Logger) DistOption {
	return func(d *Dist) {
		d.logger = logger
	}
}

// Dist manages the build and distribution directories.
type Dist struct {
	logger        *zap.Logger
	buildDir      string
	distDir       string
	staging       string
	intermediates []string
}

// NewDist creates a Dist. The staging directory is a sibling of distDir so
// Commit can rename it into place.
func NewDist(buildDir, distDir string, opts ...DistOption) *Dist {
	d := &Dist{
		buildDir:      buildDir,
		distDir:       distDir,
		staging:       filepath.Join(filepath.Dir(distDir), "."+filepath.Base(distDir)+".staging"),
		intermediates: DefaultIntermediates,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Dir returns the distribution directory.
func (d *Dist) Dir() string {
	return d.distDir
}

// StagingDir returns the directory assets are written to before Commit.
func (d *Dist) StagingDir() string {
	return d.staging
}

// Clean removes the previous distribution directory, any leftover staging
// directory, and intermediate artifacts under the build directory, then
// ensures the build directory exists. Missing paths are not errors.
func (d *Dist) Clean() error {
	for _, dir := range []string{d.distDir, d.staging} {
		if err := os.RemoveAll(dir); err != nil {
			return errors.FileError(errors.PhaseClean, dir, err)
		}
	}

	removed := 0
	err := filepath.WalkDir(d.buildDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() || !d.intermediate(entry.Name()) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return errors.FileError(errors.PhaseClean, d.buildDir, err)
	}

	if err := os.MkdirAll(d.buildDir, 0o755); err != nil {
		return errors.FileError(errors.PhaseClean, d.buildDir, err)
	}
	d.logger.Debug("cleaned build directory",
		zap.String("build_dir", d.buildDir),
		zap.Int("removed", removed))
	return nil
}

func (d *Dist) intermediate(name string) bool {
	for _, pattern := range d.intermediates {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Stage creates an empty staging directory and returns its path.
func (d *Dist) Stage() (string, error) {
	if err := os.RemoveAll(d.staging); err != nil {
		return "", errors.FileError(errors.PhaseBundle, d.staging, err)
	}
	if err := os.MkdirAll(d.staging, 0o755); err != nil {
		return "", errors.FileError(errors.PhaseBundle, d.staging, err)
	}
	return d.staging, nil
}

// Commit writes the host document into staging under name and replaces the
// distribution directory with the staging directory.
func (d *Dist) Commit(doc Document, name string) error {
	docPath := filepath.Join(d.staging, name)
	if err := os.WriteFile(docPath, []byte(doc.Text()), 0o644); err != nil {
		return errors.FileError(errors.PhaseBundle, docPath, err)
	}
	if err := os.RemoveAll(d.distDir); err != nil {
		return errors.FileError(errors.PhaseBundle, d.distDir, err)
	}
	if err := os.Rename(d.staging, d.distDir); err != nil {
		return errors.FileError(errors.PhaseBundle, d.distDir, err)
	}
	d.logger.Info("distribution directory ready", zap.String("dir", d.distDir))
	return nil
}

// Discard removes the staging directory after a failed build.
func (d *Dist) Discard() error {
	if err := os.RemoveAll(d.staging); err != nil {
		return errors.FileError(errors.PhaseBundle, d.staging, err)
	}
	return nil
}

// Files lists the distribution directory's file names in sorted order.
func (d *Dist) Files() ([]string, error) {
	entries, err := os.ReadDir(d.distDir)
	if err != nil {
		return nil, errors.FileError(errors.PhaseBundle, d.distDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
