package bundle

import (
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/errors"
)

// Asset is a file to publish. Source is where the bytes come from; Embed is
// the logical name the host document refers to, whose basename is rewritten.
// The two differ when a build step renames its output, e.g. a patched
// module published as "spall.wasm".
type Asset struct {
	Source string
	Embed  string
}

// Basename returns the name the host document uses for the asset.
func (a Asset) Basename() string {
	return path.Base(filepath.ToSlash(a.Embed))
}

// Entry records one published asset.
type Entry struct {
	Asset
	Name          string // original basename
	Fingerprinted string
	Dest          string
	Size          int64
	Digest        string // BLAKE3-256 of the content, hex
	References    int    // occurrences rewritten in the document
}

// FingerprinterOption configures a Fingerprinter.
type FingerprinterOption func(*Fingerprinter)

// WithFingerprintLogger sets the logger. A nil logger disables logging.
func WithFingerprintLogger(logger *zap.Logger) FingerprinterOption {
	return func(f *Fingerprinter) {
		f.logger = logger
	}
}

// Fingerprinter copies assets into a directory under fingerprinted names and
// rewrites a Document to match.
type Fingerprinter struct {
	logger *zap.Logger
	id     string
	dir    string
}

// NewFingerprinter creates a Fingerprinter writing into dir.
func NewFingerprinter(id, dir string, opts ...FingerprinterOption) (*Fingerprinter, error) {
	if !ValidBuildID(id) {
		return nil, errors.InvalidInput(errors.PhaseFingerprint,
			"build id %q must be %d characters from [A-Z0-9]", id, IDLength)
	}
	f := &Fingerprinter{id: id, dir: dir}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	return f, nil
}

// ID returns the build identifier.
func (f *Fingerprinter) ID() string {
	return f.id
}

// Check verifies the caller invariants for a set of assets: basenames are
// non-empty and distinct, and no basename occurs inside another asset's
// original or fingerprinted basename. Rewriting one such asset would
// corrupt references to the other.
func (f *Fingerprinter) Check(assets []Asset) error {
	names := make([]string, len(assets))
	seen := make(map[string]int, len(assets))
	for i, a := range assets {
		name := a.Basename()
		if a.Embed == "" || name == "." || name == "/" {
			return errors.InvalidInput(errors.PhaseFingerprint, "asset %d (%s) has no embed name", i, a.Source)
		}
		if j, dup := seen[name]; dup {
			return errors.InvalidInput(errors.PhaseFingerprint,
				"assets %d and %d share the basename %q", j, i, name)
		}
		seen[name] = i
		names[i] = name
	}

	for i, name := range names {
		for j, other := range names {
			if i == j {
				continue
			}
			if strings.Contains(other, name) {
				return errors.InvalidInput(errors.PhaseFingerprint,
					"basename %q occurs inside %q", name, other)
			}
			if fp := Fingerprint(other, f.id); strings.Contains(fp, name) {
				return errors.InvalidInput(errors.PhaseFingerprint,
					"basename %q occurs inside fingerprinted %q", name, fp)
			}
		}
	}
	return nil
}

// Apply publishes one asset and returns the rewritten document. doc is not
// modified.
func (f *Fingerprinter) Apply(doc Document, a Asset) (Document, Entry, error) {
	name := a.Basename()
	entry := Entry{
		Asset:         a,
		Name:          name,
		Fingerprinted: Fingerprint(name, f.id),
	}
	entry.Dest = filepath.Join(f.dir, entry.Fingerprinted)

	size, digest, err := copyFile(a.Source, entry.Dest)
	if err != nil {
		return doc, entry, err
	}
	entry.Size = size
	entry.Digest = digest

	doc, entry.References = doc.Replace(name, entry.Fingerprinted)
	if entry.References == 0 {
		f.logger.Warn("asset is not referenced by the host document",
			zap.String("asset", name),
			zap.String("source", a.Source))
	}
	f.logger.Info("published asset",
		zap.String("asset", name),
		zap.String("file", entry.Fingerprinted),
		zap.Int64("size", size),
		zap.Int("references", entry.References))
	return doc, entry, nil
}

// ApplyAll checks the assets and applies them in order, each against the
// document produced by the previous one.
func (f *Fingerprinter) ApplyAll(doc Document, assets []Asset) (Document, []Entry, error) {
	if err := f.Check(assets); err != nil {
		return doc, nil, err
	}
	entries := make([]Entry, 0, len(assets))
	for _, a := range assets {
		next, entry, err := f.Apply(doc, a)
		if err != nil {
			return doc, entries, err
		}
		doc = next
		entries = append(entries, entry)
	}
	return doc, entries, nil
}

func copyFile(src, dst string) (int64, string, error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", errors.NotFound(errors.PhaseFingerprint, src, "asset")
		}
		return 0, "", errors.FileError(errors.PhaseFingerprint, src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, "", errors.FileError(errors.PhaseFingerprint, dst, err)
	}

	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		out.Close()
		return 0, "", errors.FileError(errors.PhaseFingerprint, dst, err)
	}
	if err := out.Close(); err != nil {
		return 0, "", errors.FileError(errors.PhaseFingerprint, dst, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
