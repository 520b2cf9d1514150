package pipeline

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/chaos-io/eolian/env"
	"github.com/chaos-io/eolian/gateway"
	"github.com/chaos-io/eolian/imageset"
	"github.com/chaos-io/eolian/stage"
	"github.com/chaos-io/eolian/util"
	"github.com/chaos-io/eolian/workspace"
)

// ErrSharedWorkDir is returned when the working directory is the source
// directory. The reset would delete the source artifacts.
var ErrSharedWorkDir = errors.New("working directory must differ from the source directory")

type Gateway interface {
	ExtractFrames(ctx context.Context, video, outDir string) gateway.Result
	ComputePoses(ctx context.Context) gateway.Result
	TrainAndRender(ctx context.Context, req gateway.TrainRequest) gateway.Result
}

type Normalizer interface {
	Normalize(dir string) (imageset.Report, error)
}

type Isolator interface {
	Isolate(ctx context.Context, l workspace.Layout) (int, error)
}

type Packager interface {
	Package(l workspace.Layout, sourceDir string) (string, error)
}

type Deps struct {
	Gateway    Gateway
	Normalizer Normalizer
	Isolator   Isolator
	Packager   Packager
}

// Pipeline drives one run from an empty working directory to a result
// bundle. Stages run strictly in sequence.
type Pipeline struct {
	rc     env.RunContext
	layout workspace.Layout
	steps  int
	deps   Deps
	log    zerolog.Logger
}

// New builds a pipeline. steps is the training budget used for object mode
// and for resuming from a transform file.
func New(rc env.RunContext, steps int, deps Deps, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		rc:     rc,
		layout: workspace.NewLayout(rc.WorkDir),
		steps:  steps,
		deps:   deps,
		log:    log.With().Str("run", rc.RunID).Logger(),
	}
}

type step struct {
	name string
	run  func(ctx context.Context) Outcome
}

// Run executes the stages until one terminates the run.
func (p *Pipeline) Run(ctx context.Context) Outcome {
	if workspace.SameDir(p.rc.SourceDir, p.rc.WorkDir) {
		return Terminate(ReasonFailed, ErrSharedWorkDir)
	}
	steps := []step{
		{"reset", p.reset},
		{"select", p.selectStage},
		{"normalize", p.normalize},
		{"isolate", p.isolate},
		{"poses", p.computePoses},
		{"train", p.train},
		{"package", p.pack},
	}
	for _, s := range steps {
		o := p.runStep(ctx, s)
		if o.Terminal {
			return o
		}
	}
	return Terminate(ReasonCompleted, nil)
}

func (p *Pipeline) runStep(ctx context.Context, s step) Outcome {
	defer util.Trace(p.log, s.name)()
	return s.run(ctx)
}

func (p *Pipeline) reset(context.Context) Outcome {
	if err := p.layout.Reset(); err != nil {
		return Terminate(ReasonFailed, err)
	}
	return Continue()
}

func (p *Pipeline) selectStage(ctx context.Context) Outcome {
	artifacts, err := stage.ProbeArtifacts(p.rc.SourceDir)
	if err != nil {
		return Terminate(ReasonNoImages, err)
	}
	plan := stage.Select(artifacts)
	p.log.Debug().Stringer("resume", plan.Resume).Bool("extract_frames", plan.ExtractFrames).Msg("Stage selected")

	sourceImages := filepath.Join(p.rc.SourceDir, workspace.ImagesDir)
	if plan.ExtractFrames {
		p.log.Info().Str("video", filepath.Base(plan.Video)).Msg("Extracting frames from video")
		p.report(p.deps.Gateway.ExtractFrames(ctx, plan.Video, sourceImages))
	}

	sourceSnapshot := filepath.Join(p.rc.SourceDir, workspace.SnapshotFile)
	switch plan.Resume {
	case stage.ResumeCheckpoint:
		p.log.Info().Str("checkpoint", filepath.Base(plan.Checkpoint)).Msg("Rendering existing checkpoint")
		return p.trainAndStop(ctx, gateway.TrainRequest{
			Snapshot:     plan.Checkpoint,
			SaveSnapshot: sourceSnapshot,
		}, ReasonCheckpointRendered)
	case stage.ResumeTransforms:
		p.log.Info().Msg("Training from existing transforms")
		return p.trainAndStop(ctx, gateway.TrainRequest{
			Scene:        p.rc.SourceDir,
			Steps:        p.steps,
			SaveSnapshot: sourceSnapshot,
		}, ReasonTransformsRendered)
	}

	if err := workspace.CopyDir(sourceImages, p.layout.Images()); err != nil {
		return Terminate(ReasonNoImages, err)
	}
	return Continue()
}

func (p *Pipeline) trainAndStop(ctx context.Context, req gateway.TrainRequest, reason Reason) Outcome {
	res := p.deps.Gateway.TrainAndRender(ctx, req)
	if errors.Is(res.Err, gateway.ErrNoDisplay) {
		return Terminate(ReasonFailed, res.Err)
	}
	p.report(res)
	return Terminate(reason, nil)
}

func (p *Pipeline) normalize(context.Context) Outcome {
	r, err := p.deps.Normalizer.Normalize(p.layout.Images())
	if err != nil {
		return Terminate(ReasonNoImages, err)
	}
	p.log.Debug().
		Str("format", string(r.Format)).
		Int("images", r.Images).
		Int("converted", r.Converted).
		Int("resized", r.Resized).
		Msg("Images normalized")
	return Continue()
}

func (p *Pipeline) isolate(ctx context.Context) Outcome {
	if p.rc.Mode != env.ModeObject {
		return Continue()
	}
	n, err := p.deps.Isolator.Isolate(ctx, p.layout)
	if err != nil {
		return Terminate(ReasonFailed, err)
	}
	p.log.Info().Int("images", n).Msg("Background removed")
	return Continue()
}

func (p *Pipeline) computePoses(ctx context.Context) Outcome {
	p.log.Info().Msg("Computing image transforms")
	p.report(p.deps.Gateway.ComputePoses(ctx))
	return Continue()
}

func (p *Pipeline) train(ctx context.Context) Outcome {
	req := gateway.TrainRequest{
		Scene:        p.rc.WorkDir,
		SaveSnapshot: p.layout.Snapshot(),
	}
	if p.rc.Mode == env.ModeObject {
		req.Steps = p.steps
	}
	res := p.deps.Gateway.TrainAndRender(ctx, req)
	if errors.Is(res.Err, gateway.ErrNoDisplay) {
		return Terminate(ReasonFailed, res.Err)
	}
	p.report(res)
	return Continue()
}

func (p *Pipeline) pack(context.Context) Outcome {
	if _, err := p.deps.Packager.Package(p.layout, p.rc.SourceDir); err != nil {
		return Terminate(ReasonFailed, err)
	}
	return Terminate(ReasonCompleted, nil)
}

// report logs an external process result. Failures are not fatal here: the
// missing output is caught by whichever stage needs it next.
func (p *Pipeline) report(res gateway.Result) {
	if res.OK() {
		p.log.Debug().Str("command", res.String()).Msg("External process finished")
		return
	}
	p.log.Warn().
		Err(res.Err).
		Str("command", res.String()).
		Int("exit_code", res.ExitCode).
		Str("stderr", tail(res.Stderr, 512)).
		Msg("External process failed")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
