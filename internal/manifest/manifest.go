// Package manifest snapshots a source tree as content hashes and computes the
// difference between two snapshots. Incremental setup copies only what the
// difference names.
package manifest

import (
	"crypto/md5" //nolint:gosec // change detection, not security
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
)

// Manifest maps a slash-separated path relative to the root to the MD5 of the
// file's bytes.
type Manifest map[string]string

// Build hashes every regular file below root. Symlinks and other special
// files are skipped.
func Build(root string) (Manifest, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, foundation.WrapError(err, foundation.CategoryFileSystem, "cannot read source directory").
			WithContext("path", root).
			Build()
	}
	if !info.IsDir() {
		return nil, foundation.FileSystemError("source path is not a directory").
			WithContext("path", root).
			Build()
	}

	m := make(Manifest)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		m[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, foundation.WrapError(err, foundation.CategoryFileSystem, "failed to hash source tree").
			WithContext("path", root).
			Build()
	}
	return m, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // change detection, not security
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Paths returns the manifest's paths in sorted order.
func (m Manifest) Paths() []string {
	return slices.Sorted(maps.Keys(m))
}

// Digest returns a single hash over the whole manifest. Equal manifests have
// equal digests.
func (m Manifest) Digest() string {
	h := sha256.New()
	for _, p := range m.Paths() {
		_, _ = io.WriteString(h, p)
		_, _ = h.Write([]byte{0})
		_, _ = io.WriteString(h, m[p])
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Diff holds the disjoint, sorted path sets that turn one manifest into another.
type Diff struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Compare returns the changes from old to next.
func Compare(old, next Manifest) Diff {
	var d Diff
	for p, sum := range next {
		prev, ok := old[p]
		switch {
		case !ok:
			d.Added = append(d.Added, p)
		case prev != sum:
			d.Modified = append(d.Modified, p)
		}
	}
	for p := range old {
		if _, ok := next[p]; !ok {
			d.Deleted = append(d.Deleted, p)
		}
	}
	slices.Sort(d.Added)
	slices.Sort(d.Modified)
	slices.Sort(d.Deleted)
	return d
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Changed returns added and modified paths, the files that must be copied.
func (d Diff) Changed() []string {
	out := make([]string, 0, len(d.Added)+len(d.Modified))
	out = append(out, d.Added...)
	out = append(out, d.Modified...)
	slices.Sort(out)
	return out
}

// Structural reports whether files were added or deleted. Modifications alone
// leave the build system's file lists untouched.
func (d Diff) Structural() bool {
	return len(d.Added) > 0 || len(d.Deleted) > 0
}
