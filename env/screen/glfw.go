// Package screen lists attached monitors through GLFW.
package screen

import (
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/chaos-io/eolian/env"
)

func init() {
	// GLFW must be driven from the main thread.
	runtime.LockOSThread()
}

type GLFW struct{}

func NewGLFW() *GLFW {
	return &GLFW{}
}

func (g *GLFW) Displays() ([]env.Display, error) {
	if err := glfw.Init(); err != nil {
		return nil, err
	}
	defer glfw.Terminate()

	// GetMonitors and GetPrimaryMonitor allocate fresh wrappers on every
	// call, so monitors are matched on the wrapped handle.
	primary := glfw.GetPrimaryMonitor()
	monitors := glfw.GetMonitors()

	infos := make([]monitorInfo, 0, len(monitors))
	primaryIdx := -1
	for i, m := range monitors {
		info := monitorInfo{name: m.GetName()}
		if mode := m.GetVideoMode(); mode != nil {
			info.width = mode.Width
			info.height = mode.Height
		}
		if primary != nil && *m == *primary {
			primaryIdx = i
		}
		infos = append(infos, info)
	}
	return displaysFrom(infos, primaryIdx), nil
}
