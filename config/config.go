package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"
)

const (
	BackendCarvekit = "carvekit"
	BackendService  = "service"
)

type Config struct {
	WorkDir  string  `yaml:"work_dir"`
	LogLevel string  `yaml:"log_level"`
	Target   Target  `yaml:"target"`
	Tools    Tools   `yaml:"tools"`
	Matting  Matting `yaml:"matting"`
}

// Target is the fixed resolution every working image is resized to.
type Target struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type Tools struct {
	Python        string  `yaml:"python"`
	ScriptsDir    string  `yaml:"scripts_dir"`
	FFmpeg        string  `yaml:"ffmpeg"`
	FrameInterval float64 `yaml:"frame_interval"` // seconds between sampled frames
	AABBScale     int     `yaml:"aabb_scale"`
	ColmapMatcher string  `yaml:"colmap_matcher"`
	Steps         int     `yaml:"steps"`
}

type Matting struct {
	Backend          string        `yaml:"backend"`
	Endpoint         string        `yaml:"endpoint"`
	Device           string        `yaml:"device"`
	BatchSizeSeg     int           `yaml:"batch_size_seg"`
	BatchSizeMatting int           `yaml:"batch_size_matting"`
	SegMaskSize      int           `yaml:"seg_mask_size"`
	MattingMaskSize  int           `yaml:"matting_mask_size"`
	Timeout          time.Duration `yaml:"timeout"`
}

// Defaults returns the configuration used when no config file exists.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Target:   Target{Width: 1920, Height: 1080},
		Tools: Tools{
			Python:        "python",
			ScriptsDir:    "./scripts",
			FFmpeg:        "ffmpeg",
			FrameInterval: 0.5,
			AABBScale:     16,
			ColmapMatcher: "exhaustive",
			Steps:         35000,
		},
		Matting: Matting{
			Backend:          BackendCarvekit,
			Device:           "auto",
			BatchSizeSeg:     5,
			BatchSizeMatting: 1,
			SegMaskSize:      320,
			MattingMaskSize:  2048,
			Timeout:          2 * time.Minute,
		},
	}
}

// FromFile loads the config at path. A missing file yields Defaults.
func FromFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return nil, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes b on top of Defaults and expands ${VAR} references
// in path and endpoint fields.
func ParseConfig(b []byte) (*Config, error) {
	c := Defaults()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}

	for _, s := range []*string{
		&c.WorkDir,
		&c.Tools.Python,
		&c.Tools.ScriptsDir,
		&c.Tools.FFmpeg,
		&c.Matting.Endpoint,
	} {
		v, err := envsubst.EvalEnv(*s)
		if err != nil {
			return nil, err
		}
		*s = v
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Target.Width <= 0 || c.Target.Height <= 0 {
		return fmt.Errorf("invalid target resolution %dx%d", c.Target.Width, c.Target.Height)
	}
	if c.Tools.FrameInterval <= 0 {
		return fmt.Errorf("invalid frame interval %v", c.Tools.FrameInterval)
	}
	switch c.Matting.Backend {
	case BackendCarvekit:
	case BackendService:
		if c.Matting.Endpoint == "" {
			return errors.New("matting backend service requires an endpoint")
		}
	default:
		return fmt.Errorf("unknown matting backend %q", c.Matting.Backend)
	}
	return nil
}
