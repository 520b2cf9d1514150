package imageset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/chaos-io/eolian/util"
	"github.com/chaos-io/eolian/workspace"
)

// BackgroundRemover writes a copy of src with the background made
// transparent to dst.
type BackgroundRemover interface {
	Remove(ctx context.Context, src, dst string) error
}

// Isolator strips the background from every working image.
type Isolator struct {
	RemBG BackgroundRemover
	log   zerolog.Logger
}

func NewIsolator(remover BackgroundRemover, log zerolog.Logger) *Isolator {
	return &Isolator{RemBG: remover, log: log}
}

// Isolate replaces the working image set with background-free, opaque
// copies. Any remover failure aborts the run and discards the staging area.
func (i *Isolator) Isolate(ctx context.Context, l workspace.Layout) (int, error) {
	files, err := ListImages(l.Images())
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, ErrNoCompatibleImages
	}

	// 1. 重建临时目录
	if err := os.RemoveAll(l.Staging()); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(l.StagedImages(), 0o755); err != nil {
		return 0, err
	}

	// 2. 背景去除
	staged := make([]string, 0, len(files))
	for n, f := range files {
		dst := filepath.Join(l.StagedImages(), filepath.Base(f))
		if err := i.RemBG.Remove(ctx, f, dst); err != nil {
			_ = os.RemoveAll(l.Staging())
			return 0, fmt.Errorf("remove background from %s: %w", filepath.Base(f), err)
		}
		i.log.Debug().Int("done", n+1).Int("total", len(files)).Msg("Removing background")
		staged = append(staged, dst)
	}

	// 3. 透明区域填白
	for _, f := range staged {
		if err := flattenFile(f); err != nil {
			_ = os.RemoveAll(l.Staging())
			return 0, fmt.Errorf("flatten %s: %w", filepath.Base(f), err)
		}
	}

	// 4. 替换工作目录
	if err := os.RemoveAll(l.Images()); err != nil {
		return 0, err
	}
	if err := os.Rename(l.StagedImages(), l.Images()); err != nil {
		return 0, err
	}
	return len(staged), os.RemoveAll(l.Staging())
}

func flattenFile(path string) error {
	img, err := util.OpenImage(path)
	if err != nil {
		return err
	}
	return util.SavePNG(path, Flatten(img))
}
