package imageset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"

	"github.com/chaos-io/eolian/util"
	"github.com/chaos-io/eolian/workspace"
)

// ErrNoCompatibleImages means the working set is empty or not in a format
// the pipeline can read.
var ErrNoCompatibleImages = errors.New("no compatible image format found")

type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

const canonicalExt = ".png"

// DetectFormat maps a file extension to a supported format, ignoring case.
func DetectFormat(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, true
	case ".jpg", ".jpeg":
		return FormatJPEG, true
	}
	return "", false
}

// Report summarizes what Normalize changed.
type Report struct {
	Format    Format
	Images    int
	Converted int
	Resized   int
}

// Normalizer makes every image in a directory a PNG of Width x Height.
type Normalizer struct {
	Width  int
	Height int
	log    zerolog.Logger
}

func NewNormalizer(width, height int, log zerolog.Logger) *Normalizer {
	return &Normalizer{Width: width, Height: height, log: log}
}

// Normalize converts and resizes the images in dir in place. The first
// image decides the reported format; any JPEG in the set is converted.
func (n *Normalizer) Normalize(dir string) (Report, error) {
	files, err := ListImages(dir)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrNoCompatibleImages, err)
	}
	if len(files) == 0 {
		return Report{}, ErrNoCompatibleImages
	}

	format, ok := DetectFormat(files[0])
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrNoCompatibleImages, filepath.Base(files[0]))
	}

	r := Report{Format: format}
	switch format {
	case FormatPNG:
		n.log.Info().Msg("Image type: PNG (Portable Network Graphics)")
	case FormatJPEG:
		n.log.Info().Msg("Image type: JPG (Joint Photographic Experts Group)")
		n.log.Info().Msg("Running conversion")
	}

	// a PNG-led set may still carry stray JPEGs; the set leaves here as PNG only
	if r.Converted, err = n.convertToPNG(files); err != nil {
		return r, err
	}
	if format == FormatJPEG || r.Converted > 0 {
		if err := n.fixDoubleExtensions(dir); err != nil {
			return r, err
		}
		if files, err = ListImages(dir); err != nil {
			return r, err
		}
	}

	r.Images = len(files)
	if r.Resized, err = n.resizeAll(files); err != nil {
		return r, err
	}
	return r, nil
}

// convertToPNG re-encodes every non-PNG file and removes the original.
// A file that is neither PNG nor JPEG rejects the whole set.
func (n *Normalizer) convertToPNG(files []string) (int, error) {
	for _, f := range files {
		if _, ok := DetectFormat(f); !ok {
			return 0, fmt.Errorf("%w: %s", ErrNoCompatibleImages, filepath.Base(f))
		}
	}

	converted := 0
	for _, f := range files {
		if format, _ := DetectFormat(f); format == FormatPNG {
			continue
		}
		img, err := util.OpenImage(f)
		if err != nil {
			return converted, fmt.Errorf("%w: decode %s: %v", ErrNoCompatibleImages, filepath.Base(f), err)
		}
		out := freePNGPath(strings.TrimSuffix(f, filepath.Ext(f)))
		if base := strings.TrimSuffix(f, filepath.Ext(f)) + canonicalExt; out != base {
			n.log.Warn().
				Str("file", filepath.Base(f)).
				Str("renamed", filepath.Base(out)).
				Msg("Converted image would overwrite an existing file")
		}
		if err := util.SavePNG(out, img); err != nil {
			return converted, fmt.Errorf("write %s: %w", out, err)
		}
		if err := os.Remove(f); err != nil {
			return converted, err
		}
		converted++
	}
	return converted, nil
}

// freePNGPath returns stem.png, or stem_N.png when that name is taken.
func freePNGPath(stem string) string {
	out := stem + canonicalExt
	for i := 1; workspace.Exists(out); i++ {
		out = fmt.Sprintf("%s_%d%s", stem, i, canonicalExt)
	}
	return out
}

// fixDoubleExtensions renames "x.png.png" left by earlier conversions to "x.png".
// A name that is already taken is left alone.
func (n *Normalizer) fixDoubleExtensions(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	double := canonicalExt + canonicalExt
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) <= len(double) || !strings.EqualFold(name[len(name)-len(double):], double) {
			continue
		}
		fixed := filepath.Join(dir, name[:len(name)-len(canonicalExt)])
		if workspace.Exists(fixed) {
			n.log.Warn().Str("file", name).Msg("Keeping double extension, target name is taken")
			continue
		}
		if err := os.Rename(filepath.Join(dir, name), fixed); err != nil {
			return err
		}
	}
	return nil
}

// resizeAll stretches every image that is not already the target size.
// The aspect ratio is not preserved.
func (n *Normalizer) resizeAll(files []string) (int, error) {
	resized := 0
	logged := false
	for _, f := range files {
		w, h, err := util.ImageSize(f)
		if err != nil {
			return resized, fmt.Errorf("%w: %s: %v", ErrNoCompatibleImages, filepath.Base(f), err)
		}
		if w == n.Width && h == n.Height {
			continue
		}
		if !logged {
			n.log.Info().Int("width", n.Width).Int("height", n.Height).Msg("Adjusting resolution")
			logged = true
		}

		img, err := util.OpenImage(f)
		if err != nil {
			return resized, err
		}
		out := resize.Resize(uint(n.Width), uint(n.Height), img, resize.Lanczos3)
		if err := util.SavePNG(f, out); err != nil {
			return resized, err
		}
		resized++
	}
	return resized, nil
}

// ListImages returns the regular, non-hidden files in dir that carry an
// extension, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || filepath.Ext(name) == "" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}
