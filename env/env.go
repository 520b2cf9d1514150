package env

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

type Mode string

const (
	ModeScene  Mode = "scene"
	ModeObject Mode = "object"
)

// ParseMode accepts the CLI spelling of a mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeScene, ModeObject:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q, want %q or %q", s, ModeScene, ModeObject)
}

type Display struct {
	Name    string
	Width   int
	Height  int
	Primary bool
}

// DisplayLister enumerates the displays attached to the host.
type DisplayLister interface {
	Displays() ([]Display, error)
}

// Environment is what the probe learns about the host.
type Environment struct {
	PathSeparator string
	Displays      int
	SecondWindow  bool
	Width         int
	Height        int
}

// Probe inspects the host. A lister failure is treated as a headless host.
func Probe(lister DisplayLister, log zerolog.Logger) Environment {
	e := Environment{PathSeparator: string(os.PathSeparator)}

	displays, err := lister.Displays()
	if err != nil {
		log.Warn().Err(err).Msg("Could not enumerate displays")
		return e
	}

	e.Displays = len(displays)
	// more than one display opens the trainer's briefing window
	e.SecondWindow = len(displays) > 1
	for _, d := range displays {
		if d.Primary {
			e.Width = d.Width
			e.Height = d.Height
		}
	}

	if e.Width == 0 || e.Height == 0 {
		log.Warn().Int("displays", e.Displays).Msg("No primary display found")
	} else {
		log.Debug().
			Int("displays", e.Displays).
			Int("width", e.Width).
			Int("height", e.Height).
			Bool("second_window", e.SecondWindow).
			Msg("Display setup")
	}
	return e
}

// RunContext is the per-run state shared by every stage. It is built once
// and passed by value.
type RunContext struct {
	RunID     string
	SourceDir string
	WorkDir   string
	Mode      Mode
	Environment
}

func NewRunContext(e Environment, sourceDir, workDir string, mode Mode) RunContext {
	return RunContext{
		RunID:       ksuid.New().String(),
		SourceDir:   sourceDir,
		WorkDir:     workDir,
		Mode:        mode,
		Environment: e,
	}
}

// HasResolution reports whether a primary display resolution was found.
func (rc RunContext) HasResolution() bool {
	return rc.Width > 0 && rc.Height > 0
}
