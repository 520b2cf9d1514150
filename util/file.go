package util

import (
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := image.Decode(file)
	return img, err
}

// ImageSize reads only the header of the image at path.
func ImageSize(path string) (width, height int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		_ = file.Close()
	}()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// SavePNG encodes img to path, replacing any existing file.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Trace logs how long the named step took. Use as `defer util.Trace(log, "step")()`.
func Trace(log zerolog.Logger, name string) func() {
	start := time.Now()
	return func() {
		log.Debug().Str("step", name).Dur("elapsed", time.Since(start)).Msg("Step finished")
	}
}
