package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	ImagesDir      = "images"
	BundleDir      = "nerf"
	StagingDir     = "tmp"
	TransformsFile = "transforms.json"
	SnapshotFile   = "snapshot.ingp"
	LogFile        = "log.log"
)

// Layout names the staging paths inside the working directory.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) Images() string     { return filepath.Join(l.Root, ImagesDir) }
func (l Layout) Bundle() string     { return filepath.Join(l.Root, BundleDir) }
func (l Layout) Staging() string    { return filepath.Join(l.Root, StagingDir) }
func (l Layout) Transforms() string { return filepath.Join(l.Root, TransformsFile) }
func (l Layout) Snapshot() string   { return filepath.Join(l.Root, SnapshotFile) }
func (l Layout) Log() string        { return filepath.Join(l.Root, LogFile) }

// StagedImages is where background-free images are written before the swap.
func (l Layout) StagedImages() string {
	return filepath.Join(l.Staging(), ImagesDir)
}

// Reset removes every artifact a previous run may have left behind and
// makes sure the working directory exists. Only the working directory is
// touched.
func (l Layout) Reset() error {
	for _, p := range []string{
		l.Images(),
		l.Bundle(),
		l.Staging(),
		l.Transforms(),
		l.Snapshot(),
		l.Log(),
	} {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("reset %s: %w", p, err)
		}
	}
	return os.MkdirAll(l.Root, 0o755)
}

// CopyDir copies the tree at src into dst, creating dst and overwriting
// same-named files.
func CopyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return CopyFile(path, target)
	})
}

// CopyFile copies src to dst, keeping the source permissions.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Exists reports whether path exists. Stat errors other than not-exist count
// as absent.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SameDir reports whether a and b name the same directory, either by
// cleaned path or, when both exist, by file identity.
func SameDir(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// IsNotExist reports whether err means a missing file or directory.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
