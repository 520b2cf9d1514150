// Package rembg holds the matting backends used to strip image backgrounds.
package rembg

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/chaos-io/eolian/config"
	"github.com/chaos-io/eolian/gateway"
	"github.com/chaos-io/eolian/imageset"
	nhttp "github.com/chaos-io/eolian/util/http"
)

// Params are the fixed batch and mask sizes handed to the matting model.
type Params struct {
	BatchSizeSeg     int
	BatchSizeMatting int
	SegMaskSize      int
	MattingMaskSize  int
}

func ParamsFromConfig(c config.Matting) Params {
	return Params{
		BatchSizeSeg:     c.BatchSizeSeg,
		BatchSizeMatting: c.BatchSizeMatting,
		SegMaskSize:      c.SegMaskSize,
		MattingMaskSize:  c.MattingMaskSize,
	}
}

// New builds the remover selected by c.Backend.
func New(c config.Matting, python string, runner gateway.Runner, log zerolog.Logger) (imageset.BackgroundRemover, error) {
	switch c.Backend {
	case config.BackendCarvekit:
		device := ResolveDevice(c.Device, exec.LookPath)
		processor := "CPU"
		if device == DeviceCUDA {
			processor = "GPU"
		}
		log.Info().Msg("Running process on " + processor)
		return NewCarvekit(python, device, ParamsFromConfig(c), runner), nil
	case config.BackendService:
		log.Info().Str("endpoint", c.Endpoint).Msg("Running process on matting service")
		return NewService(c.Endpoint, ParamsFromConfig(c), c.Timeout, nhttp.NewHTTPClient()), nil
	}
	return nil, fmt.Errorf("unknown matting backend %q", c.Backend)
}
