package rembg

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chaos-io/eolian/gateway"
)

const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// ResolveDevice turns "auto" into cuda when an NVIDIA driver is installed.
func ResolveDevice(device string, lookPath func(string) (string, error)) string {
	if device != "" && device != DeviceAuto {
		return device
	}
	if _, err := lookPath("nvidia-smi"); err == nil {
		return DeviceCUDA
	}
	return DeviceCPU
}

// Carvekit runs the carvekit CLI once per image.
type Carvekit struct {
	python string
	device string
	params Params
	runner gateway.Runner
}

func NewCarvekit(python, device string, params Params, runner gateway.Runner) *Carvekit {
	return &Carvekit{
		python: python,
		device: device,
		params: params,
		runner: runner,
	}
}

func (c *Carvekit) Remove(ctx context.Context, src, dst string) error {
	out, err := c.runner.Run(ctx, "", c.python, c.args(src, dst)...)
	if err != nil {
		return fmt.Errorf("carvekit exit %d: %s: %w", out.ExitCode, strings.TrimSpace(out.Stderr), err)
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("carvekit finished without output: %w", err)
	}
	return nil
}

func (c *Carvekit) args(src, dst string) []string {
	return []string{
		"-m", "carvekit",
		"-i", src,
		"-o", dst,
		"--device", c.device,
		"--batch_size_seg", strconv.Itoa(c.params.BatchSizeSeg),
		"--batch_size_mat", strconv.Itoa(c.params.BatchSizeMatting),
		"--seg_mask_size", strconv.Itoa(c.params.SegMaskSize),
		"--matting_mask_size", strconv.Itoa(c.params.MattingMaskSize),
	}
}
