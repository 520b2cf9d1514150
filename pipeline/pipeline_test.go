package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/eolian/bundle"
	"github.com/chaos-io/eolian/env"
	"github.com/chaos-io/eolian/gateway"
	"github.com/chaos-io/eolian/imageset"
	"github.com/chaos-io/eolian/util"
	"github.com/chaos-io/eolian/workspace"
)

const (
	targetW = 32
	targetH = 18
	steps   = 35000
)

// fakeGateway stands in for ffmpeg, colmap and the trainer. Each call writes
// the artifact the real tool would produce unless told to fail.
type fakeGateway struct {
	workDir string

	extracted []string
	poses     int
	trains    []gateway.TrainRequest

	posesFail bool
	trainErr  error
}

func (f *fakeGateway) ExtractFrames(ctx context.Context, video, outDir string) gateway.Result {
	f.extracted = append(f.extracted, video)
	_ = os.MkdirAll(outDir, 0o755)
	for _, name := range []string{"0001.png", "0002.png", "0003.png"} {
		img := image.NewNRGBA(image.Rect(0, 0, 64, 36))
		_ = util.SavePNG(filepath.Join(outDir, name), img)
	}
	return gateway.Result{Command: "ffmpeg"}
}

func (f *fakeGateway) ComputePoses(ctx context.Context) gateway.Result {
	f.poses++
	if f.posesFail {
		return gateway.Result{Command: "python", ExitCode: 1, Err: errors.New("exit status 1")}
	}
	_ = os.WriteFile(filepath.Join(f.workDir, workspace.TransformsFile), []byte(`{"frames":[]}`), 0o644)
	return gateway.Result{Command: "python"}
}

func (f *fakeGateway) TrainAndRender(ctx context.Context, req gateway.TrainRequest) gateway.Result {
	f.trains = append(f.trains, req)
	if f.trainErr != nil {
		return gateway.Result{Command: "python", ExitCode: -1, Err: f.trainErr}
	}
	_ = os.WriteFile(req.SaveSnapshot, []byte("weights"), 0o644)
	return gateway.Result{Command: "python"}
}

// cutout makes the top-left pixel transparent.
type cutout struct {
	calls int
	err   error
}

func (c *cutout) Remove(ctx context.Context, src, dst string) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	img, err := util.OpenImage(src)
	if err != nil {
		return err
	}
	out := image.NewNRGBA(img.Bounds())
	for y := 0; y < out.Rect.Dy(); y++ {
		for x := 0; x < out.Rect.Dx(); x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	out.SetNRGBA(0, 0, color.NRGBA{})
	return util.SavePNG(dst, out)
}

type harness struct {
	src     string
	work    string
	gw      *fakeGateway
	remover *cutout
	p       *Pipeline
}

func newHarness(t *testing.T, mode env.Mode, e env.Environment) *harness {
	t.Helper()
	h := &harness{
		src:     t.TempDir(),
		work:    t.TempDir(),
		remover: &cutout{},
	}
	h.gw = &fakeGateway{workDir: h.work}
	rc := env.NewRunContext(e, h.src, h.work, mode)
	h.p = New(rc, steps, Deps{
		Gateway:    h.gw,
		Normalizer: imageset.NewNormalizer(targetW, targetH, zerolog.Nop()),
		Isolator:   imageset.NewIsolator(h.remover, zerolog.Nop()),
		Packager:   bundle.NewPackager(zerolog.Nop()),
	}, zerolog.Nop())
	return h
}

var desktop = env.Environment{PathSeparator: "/", Displays: 1, Width: 1920, Height: 1080}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, image.NewRGBA(image.Rect(0, 0, 48, 48)), nil))
	require.NoError(t, f.Close())
}

func bundledImages(t *testing.T, src string) []string {
	t.Helper()
	files, err := imageset.ListImages(filepath.Join(src, "nerf", "images"))
	require.NoError(t, err)
	return files
}

func TestRunVideoSceneMode(t *testing.T) {
	h := newHarness(t, env.ModeScene, desktop)
	mustWriteFile(t, filepath.Join(h.src, "clip.mp4"), "video")

	o := h.p.Run(context.Background())

	require.Equal(t, ReasonCompleted, o.Reason, "err: %v", o.Err)
	assert.False(t, o.Aborted())
	assert.Equal(t, []string{filepath.Join(h.src, "clip.mp4")}, h.gw.extracted)
	assert.Equal(t, 1, h.gw.poses)
	assert.Equal(t, []gateway.TrainRequest{{
		Scene:        h.work,
		SaveSnapshot: filepath.Join(h.work, "snapshot.ingp"),
	}}, h.gw.trains)
	assert.Zero(t, h.remover.calls)

	assert.FileExists(t, filepath.Join(h.src, "nerf", "transforms.json"))
	assert.FileExists(t, filepath.Join(h.src, "nerf", "snapshot.ingp"))
	files := bundledImages(t, h.src)
	require.Len(t, files, 3)
	for _, f := range files {
		assert.Equal(t, ".png", filepath.Ext(f))
		w, hh, err := util.ImageSize(f)
		require.NoError(t, err)
		assert.Equal(t, [2]int{targetW, targetH}, [2]int{w, hh})
	}
	assert.NoDirExists(t, filepath.Join(h.work, "images"))
	assert.NoDirExists(t, filepath.Join(h.work, "nerf"))
}

func TestRunVideoWithExistingFramesSkipsExtraction(t *testing.T) {
	h := newHarness(t, env.ModeScene, desktop)
	mustWriteFile(t, filepath.Join(h.src, "clip.mp4"), "video")
	require.NoError(t, os.MkdirAll(filepath.Join(h.src, "images"), 0o755))
	require.NoError(t, util.SavePNG(filepath.Join(h.src, "images", "0001.png"), image.NewNRGBA(image.Rect(0, 0, targetW, targetH))))

	o := h.p.Run(context.Background())

	require.Equal(t, ReasonCompleted, o.Reason, "err: %v", o.Err)
	assert.Empty(t, h.gw.extracted)
	assert.Len(t, bundledImages(t, h.src), 1)
}

func TestRunCheckpointOnly(t *testing.T) {
	h := newHarness(t, env.ModeObject, desktop)
	mustWriteFile(t, filepath.Join(h.src, "scene.ingp"), "weights")

	o := h.p.Run(context.Background())

	assert.Equal(t, ReasonCheckpointRendered, o.Reason)
	assert.False(t, o.Aborted())
	assert.Equal(t, []gateway.TrainRequest{{
		Snapshot:     filepath.Join(h.src, "scene.ingp"),
		SaveSnapshot: filepath.Join(h.src, "snapshot.ingp"),
	}}, h.gw.trains)
	assert.Zero(t, h.gw.poses)
	assert.Zero(t, h.remover.calls)
	assert.NoDirExists(t, filepath.Join(h.work, "images"))
	assert.NoDirExists(t, filepath.Join(h.src, "nerf"))
}

func TestRunCheckpointBeatsTransforms(t *testing.T) {
	h := newHarness(t, env.ModeScene, desktop)
	mustWriteFile(t, filepath.Join(h.src, "scene.ingp"), "weights")
	mustWriteFile(t, filepath.Join(h.src, "transforms.json"), "{}")

	o := h.p.Run(context.Background())

	assert.Equal(t, ReasonCheckpointRendered, o.Reason)
	require.Len(t, h.gw.trains, 1)
	assert.Empty(t, h.gw.trains[0].Scene, "transform resume is never invoked")
}

func TestRunTransformsOnly(t *testing.T) {
	h := newHarness(t, env.ModeScene, desktop)
	mustWriteFile(t, filepath.Join(h.src, "transforms.json"), "{}")

	o := h.p.Run(context.Background())

	assert.Equal(t, ReasonTransformsRendered, o.Reason)
	assert.Equal(t, []gateway.TrainRequest{{
		Scene:        h.src,
		Steps:        steps,
		SaveSnapshot: filepath.Join(h.src, "snapshot.ingp"),
	}}, h.gw.trains)
	assert.Zero(t, h.gw.poses)
}

func TestRunMissingImages(t *testing.T) {
	h := newHarness(t, env.ModeScene, desktop)

	o := h.p.Run(context.Background())

	assert.Equal(t, ReasonNoImages, o.Reason)
	assert.True(t, o.Aborted())
	assert.Equal(t, "No compatible image format found", o.Reason.String())
	assert.Empty(t, h.gw.trains)
	assert.NoDirExists(t, filepath.Join(h.src, "nerf"))
}

func TestRunUnsupportedImages(t *testing.T) {
	h := newHarness(t, env.ModeScene, desktop)
	mustWriteFile(t, filepath.Join(h.src, "images", "a.gif"), "GIF89a")

	o := h.p.Run(context.Background())

	assert.Equal(t, ReasonNoImages, o.Reason)
	assert.ErrorIs(t, o.Err, imageset.ErrNoCompatibleImages)
	assert.NoDirExists(t, filepath.Join(h.src, "nerf"))
}

func TestRunObjectModeJPEGs(t *testing.T) {
	h := newHarness(t, env.ModeObject, desktop)
	for i := 0; i < 10; i++ {
		writeJPEG(t, filepath.Join(h.src, "images", string(rune('a'+i))+".JPG"))
	}

	o := h.p.Run(context.Background())

	require.Equal(t, ReasonCompleted, o.Reason, "err: %v", o.Err)
	assert.Equal(t, 10, h.remover.calls)
	assert.Equal(t, 1, h.gw.poses)
	require.Len(t, h.gw.trains, 1)
	assert.Equal(t, steps, h.gw.trains[0].Steps)

	files := bundledImages(t, h.src)
	require.Len(t, files, 10)
	for _, f := range files {
		assert.Equal(t, ".png", filepath.Ext(f))
		img, err := util.OpenImage(f)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, targetW, targetH), img.Bounds())
		r, g, b, a := img.At(0, 0).RGBA()
		assert.Equal(t, [4]uint32{0xffff, 0xffff, 0xffff, 0xffff}, [4]uint32{r, g, b, a}, "transparent pixel flattened to white")
	}
	assert.NoDirExists(t, filepath.Join(h.work, "tmp"))
}

func TestRunObjectModeMattingFailure(t *testing.T) {
	h := newHarness(t, env.ModeObject, desktop)
	h.remover.err = errors.New("segmentation failed")
	writeJPEG(t, filepath.Join(h.src, "images", "a.jpg"))

	o := h.p.Run(context.Background())

	assert.Equal(t, ReasonFailed, o.Reason)
	assert.True(t, o.Aborted())
	assert.Zero(t, h.gw.poses)
	assert.NoDirExists(t, filepath.Join(h.src, "nerf"))
}

func TestRunPoseFailureSurfacesAtPackaging(t *testing.T) {
	h := newHarness(t, env.ModeScene, desktop)
	h.gw.posesFail = true
	writeJPEG(t, filepath.Join(h.src, "images", "a.jpg"))

	o := h.p.Run(context.Background())

	assert.Equal(t, ReasonFailed, o.Reason)
	assert.Len(t, h.gw.trains, 1, "training still runs after a pose failure")
	assert.ErrorContains(t, o.Err, "transforms.json")
	assert.NoDirExists(t, filepath.Join(h.src, "nerf"))
}

func TestRunWithoutDisplay(t *testing.T) {
	h := newHarness(t, env.ModeScene, env.Environment{})
	h.gw.trainErr = gateway.ErrNoDisplay
	mustWriteFile(t, filepath.Join(h.src, "scene.ingp"), "weights")

	o := h.p.Run(context.Background())

	assert.Equal(t, ReasonFailed, o.Reason)
	assert.ErrorIs(t, o.Err, gateway.ErrNoDisplay)
}

func TestRunResetsWorkspaceFirst(t *testing.T) {
	h := newHarness(t, env.ModeScene, desktop)
	mustWriteFile(t, filepath.Join(h.work, "images", "stale.png"), "old")
	mustWriteFile(t, filepath.Join(h.work, "snapshot.ingp"), "old")
	mustWriteFile(t, filepath.Join(h.src, "scene.ingp"), "weights")

	o := h.p.Run(context.Background())

	assert.Equal(t, ReasonCheckpointRendered, o.Reason)
	assert.NoDirExists(t, filepath.Join(h.work, "images"))
	assert.NoFileExists(t, filepath.Join(h.work, "snapshot.ingp"))
}

func TestRunRefusesSourceAsWorkDir(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"checkpoint", "snapshot.ingp"},
		{"transforms", "transforms.json"},
		{"images", filepath.Join("images", "0001.png")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			mustWriteFile(t, filepath.Join(dir, tt.file), "keep")
			gw := &fakeGateway{workDir: dir}
			p := New(env.NewRunContext(desktop, dir, dir, env.ModeScene), steps, Deps{
				Gateway:    gw,
				Normalizer: imageset.NewNormalizer(targetW, targetH, zerolog.Nop()),
				Packager:   bundle.NewPackager(zerolog.Nop()),
			}, zerolog.Nop())

			o := p.Run(context.Background())

			assert.Equal(t, ReasonFailed, o.Reason)
			assert.ErrorIs(t, o.Err, ErrSharedWorkDir)
			assert.Empty(t, gw.trains)
			assert.FileExists(t, filepath.Join(dir, tt.file), "source artifacts are untouched")
		})
	}
}

func TestRunWithWorkDirInsideSource(t *testing.T) {
	h := newHarness(t, env.ModeScene, desktop)
	work := filepath.Join(h.src, ".eolian")
	h.gw.workDir = work
	h.p = New(env.NewRunContext(desktop, h.src, work, env.ModeScene), steps, Deps{
		Gateway:    h.gw,
		Normalizer: imageset.NewNormalizer(targetW, targetH, zerolog.Nop()),
		Packager:   bundle.NewPackager(zerolog.Nop()),
	}, zerolog.Nop())
	mustWriteFile(t, filepath.Join(h.src, "scene.ingp"), "weights")

	o := h.p.Run(context.Background())

	assert.Equal(t, ReasonCheckpointRendered, o.Reason)
	assert.FileExists(t, filepath.Join(h.src, "scene.ingp"))
	assert.DirExists(t, work)
}

func TestOutcome(t *testing.T) {
	assert.False(t, Continue().Terminal)
	o := Terminate(ReasonCompleted, nil)
	assert.True(t, o.Terminal)
	assert.False(t, o.Aborted())
	assert.True(t, Terminate(ReasonFailed, errors.New("x")).Aborted())
	assert.Equal(t, "running", ReasonNone.String())
}
