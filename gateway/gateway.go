package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chaos-io/eolian/config"
	"github.com/chaos-io/eolian/env"
	"github.com/chaos-io/eolian/workspace"
)

// ErrNoDisplay is returned when training is requested without a primary
// display resolution.
var ErrNoDisplay = errors.New("no primary display resolution detected")

const (
	poseScript  = "colmap2nerf.py"
	trainScript = "run.py"
)

// intermediate structure-from-motion output, never part of a result
var colmapArtifacts = []string{"colmap_sparse", "colmap_text", "colmap.db"}

// Result describes one external invocation. The pipeline does not stop on
// a failed Result; a missing output surfaces in the next stage instead.
type Result struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (r Result) OK() bool {
	return r.Err == nil
}

func (r Result) String() string {
	return strings.TrimSpace(r.Command + " " + strings.Join(r.Args, " "))
}

// TrainRequest selects what the trainer starts from. Exactly one of Scene
// and Snapshot is set.
type TrainRequest struct {
	Scene        string
	Snapshot     string
	Steps        int
	SaveSnapshot string
}

// Gateway builds and runs the frame extraction, pose computation and
// train-and-render processes.
type Gateway struct {
	tools     config.Tools
	rc        env.RunContext
	layout    workspace.Layout
	runner    Runner
	lookPath  func(string) (string, error)
	mkdirAll  func(string, os.FileMode) error
	removeAll func(string) error
	writeFile func(string, []byte, os.FileMode) error
}

func New(tools config.Tools, rc env.RunContext, runner Runner) *Gateway {
	return &Gateway{
		tools:     tools,
		rc:        rc,
		layout:    workspace.NewLayout(rc.WorkDir),
		runner:    runner,
		lookPath:  exec.LookPath,
		mkdirAll:  os.MkdirAll,
		removeAll: os.RemoveAll,
		writeFile: os.WriteFile,
	}
}

func (g *Gateway) run(ctx context.Context, name string, args []string) Result {
	out, err := g.runner.Run(ctx, g.rc.WorkDir, name, args...)
	return Result{
		Command:  name,
		Args:     args,
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Err:      err,
	}
}

// ExtractFrames samples video into numbered PNGs under outDir.
func (g *Gateway) ExtractFrames(ctx context.Context, video, outDir string) Result {
	args := buildFFmpegArgs(video, outDir, g.tools.FrameInterval)
	if err := g.mkdirAll(outDir, 0o755); err != nil {
		return Result{Command: g.tools.FFmpeg, Args: args, ExitCode: -1, Err: err}
	}
	return g.run(ctx, g.tools.FFmpeg, args)
}

// ComputePoses runs structure-from-motion over the working images, writing
// transforms.json into the working directory and the tool's stdout to the
// run log. Intermediate model data is removed whatever the outcome.
func (g *Gateway) ComputePoses(ctx context.Context) Result {
	args := buildPoseArgs(g.script(poseScript), g.tools)
	res := g.run(ctx, g.tools.Python, args)

	if err := g.writeFile(g.layout.Log(), []byte(res.Stdout), 0o644); err != nil && res.Err == nil {
		res.Err = fmt.Errorf("write %s: %w", workspace.LogFile, err)
	}
	for _, name := range colmapArtifacts {
		_ = g.removeAll(filepath.Join(g.rc.WorkDir, name))
	}
	return res
}

// TrainAndRender trains (or resumes) a NeRF and opens the interactive viewer.
func (g *Gateway) TrainAndRender(ctx context.Context, req TrainRequest) Result {
	if !g.rc.HasResolution() {
		return Result{Command: g.tools.Python, ExitCode: -1, Err: ErrNoDisplay}
	}
	if (req.Scene == "") == (req.Snapshot == "") {
		return Result{Command: g.tools.Python, ExitCode: -1, Err: errors.New("train request needs a scene or a snapshot")}
	}
	return g.run(ctx, g.tools.Python, buildTrainArgs(g.script(trainScript), req, g.rc))
}

// Check lists required tools that cannot be found.
func (g *Gateway) Check() []string {
	var missing []string
	for _, tool := range []string{g.tools.Python, g.tools.FFmpeg} {
		if _, err := g.lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	for _, s := range []string{poseScript, trainScript} {
		p := g.script(s)
		if !filepath.IsAbs(p) {
			p = filepath.Join(g.rc.WorkDir, p)
		}
		if !workspace.Exists(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

func (g *Gateway) script(name string) string {
	return filepath.Join(g.tools.ScriptsDir, name)
}

// buildFFmpegArgs samples one frame every interval seconds.
func buildFFmpegArgs(video, outDir string, interval float64) []string {
	return []string{
		"-i", video,
		"-vf", "fps=1/" + strconv.FormatFloat(interval, 'f', 2, 64),
		filepath.Join(outDir, "%04d.png"),
		"-loglevel", "quiet",
	}
}

func buildPoseArgs(script string, tools config.Tools) []string {
	return []string{
		script,
		"--colmap_matcher", tools.ColmapMatcher,
		"--run_colmap",
		"--aabb_scale", strconv.Itoa(tools.AABBScale),
		"--images", workspace.ImagesDir,
	}
}

func buildTrainArgs(script string, req TrainRequest, rc env.RunContext) []string {
	args := []string{script}
	if req.Snapshot != "" {
		args = append(args, "--load_snapshot", req.Snapshot)
	} else {
		args = append(args, "--scene", req.Scene)
	}
	args = append(args, "--train", "--gui")
	if req.Steps > 0 {
		args = append(args, "--n_steps", strconv.Itoa(req.Steps))
	}
	if rc.SecondWindow {
		args = append(args, "--second_window")
	}
	return append(args,
		"--height", strconv.Itoa(rc.Height),
		"--width", strconv.Itoa(rc.Width),
		"--save_snapshot", req.SaveSnapshot,
	)
}
