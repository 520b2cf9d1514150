package stage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chaos-io/eolian/workspace"
)

const (
	videoExt      = ".mp4"
	checkpointExt = ".ingp"
)

// ArtifactSet records which pipeline artifacts a source directory holds.
type ArtifactSet struct {
	Videos      []string
	HasFrames   bool
	Checkpoints []string
	Transforms  string
}

// ProbeArtifacts lists the artifacts in sourceDir. It is the only place the
// stage selector touches the filesystem.
func ProbeArtifacts(sourceDir string) (ArtifactSet, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return ArtifactSet{}, err
	}

	var a ArtifactSet
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(sourceDir, name)
		if e.IsDir() {
			if name == workspace.ImagesDir {
				a.HasFrames = true
			}
			continue
		}
		switch {
		case name == workspace.TransformsFile:
			a.Transforms = path
		case strings.EqualFold(filepath.Ext(name), videoExt):
			a.Videos = append(a.Videos, path)
		case strings.EqualFold(filepath.Ext(name), checkpointExt):
			a.Checkpoints = append(a.Checkpoints, path)
		}
	}
	sort.Strings(a.Videos)
	sort.Strings(a.Checkpoints)
	return a, nil
}

type Resume int

const (
	// ResumeImages starts from the source images folder.
	ResumeImages Resume = iota
	// ResumeCheckpoint renders an existing trained checkpoint.
	ResumeCheckpoint
	// ResumeTransforms trains from an existing pose/transform file.
	ResumeTransforms
)

func (r Resume) String() string {
	switch r {
	case ResumeCheckpoint:
		return "checkpoint"
	case ResumeTransforms:
		return "transforms"
	default:
		return "images"
	}
}

// Plan is the selector's decision for one run.
type Plan struct {
	// ExtractFrames is set when Video must be sampled into the source
	// images folder before anything else.
	ExtractFrames bool
	Video         string

	Resume     Resume
	Checkpoint string
	Transforms string
}

// Select picks the stage to resume from, most completed work first.
func Select(a ArtifactSet) Plan {
	var p Plan

	if len(a.Videos) > 0 && !a.HasFrames {
		p.ExtractFrames = true
		p.Video = a.Videos[0]
	}

	switch {
	case len(a.Checkpoints) > 0:
		p.Resume = ResumeCheckpoint
		p.Checkpoint = a.Checkpoints[0]
	case a.Transforms != "":
		p.Resume = ResumeTransforms
		p.Transforms = a.Transforms
	default:
		p.Resume = ResumeImages
	}
	return p
}
