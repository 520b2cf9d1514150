package screen

import "github.com/chaos-io/eolian/env"

type monitorInfo struct {
	name   string
	width  int
	height int
}

// displaysFrom maps monitors to displays. primaryIdx is the index of the
// primary monitor, or -1 when there is none.
func displaysFrom(monitors []monitorInfo, primaryIdx int) []env.Display {
	displays := make([]env.Display, 0, len(monitors))
	for i, m := range monitors {
		displays = append(displays, env.Display{
			Name:    m.name,
			Width:   m.width,
			Height:  m.height,
			Primary: i == primaryIdx,
		})
	}
	return displays
}
