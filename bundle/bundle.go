package bundle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/chaos-io/eolian/workspace"
)

// Packager assembles the result bundle and hands it back to the source
// directory.
type Packager struct {
	log zerolog.Logger
}

func NewPackager(log zerolog.Logger) *Packager {
	return &Packager{log: log}
}

// Package copies the transform file, checkpoint and working images into
// <sourceDir>/nerf, then removes the staging copies. The copy is not atomic:
// a crash part way leaves a partial bundle in sourceDir.
func (p *Packager) Package(l workspace.Layout, sourceDir string) (string, error) {
	if err := os.RemoveAll(l.Bundle()); err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.Bundle(), 0o755); err != nil {
		return "", err
	}

	for _, f := range []string{l.Transforms(), l.Snapshot()} {
		if err := workspace.CopyFile(f, filepath.Join(l.Bundle(), filepath.Base(f))); err != nil {
			_ = os.RemoveAll(l.Bundle())
			return "", fmt.Errorf("bundle %s: %w", filepath.Base(f), err)
		}
	}
	if err := workspace.CopyDir(l.Images(), filepath.Join(l.Bundle(), workspace.ImagesDir)); err != nil {
		_ = os.RemoveAll(l.Bundle())
		return "", fmt.Errorf("bundle images: %w", err)
	}

	dst := filepath.Join(sourceDir, workspace.BundleDir)
	if err := workspace.CopyDir(l.Bundle(), dst); err != nil {
		return "", fmt.Errorf("copy bundle to %s: %w", dst, err)
	}
	p.log.Info().Str("path", dst).Msg("Result bundle written")

	if err := os.RemoveAll(l.Bundle()); err != nil {
		return dst, err
	}
	return dst, os.RemoveAll(l.Images())
}
