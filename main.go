package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chaos-io/eolian/bundle"
	"github.com/chaos-io/eolian/config"
	"github.com/chaos-io/eolian/env"
	"github.com/chaos-io/eolian/env/screen"
	"github.com/chaos-io/eolian/gateway"
	"github.com/chaos-io/eolian/imageset"
	"github.com/chaos-io/eolian/imageset/rembg"
	"github.com/chaos-io/eolian/logger"
	"github.com/chaos-io/eolian/pipeline"
	"github.com/chaos-io/eolian/workspace"
)

type options struct {
	mode       string
	configPath string
	logLevel   string
}

func main() {
	os.Exit(execute())
}

func execute() int {
	opts := &options{}
	code := 0

	cmd := &cobra.Command{
		Use:           "eolian [src_folder]",
		Short:         "Turn a video or photo set into a trained radiance-field bundle",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var err error
			code, err = run(ctx, opts, args)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(env.ModeScene), "reconstruction mode: scene or object")
	cmd.Flags().StringVar(&opts.configPath, "config", "eolian.yaml", "path to the config file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides the config file")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "eolian:", err)
		return 2
	}
	return code
}

func run(ctx context.Context, opts *options, args []string) (int, error) {
	mode, err := env.ParseMode(opts.mode)
	if err != nil {
		return 0, err
	}
	cfg, err := config.FromFile(opts.configPath)
	if err != nil {
		return 0, err
	}
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	log := logger.NewConsole(logger.ParseLevel(level))

	cwd, err := os.Getwd()
	if err != nil {
		return 0, err
	}
	sourceDir, workDir, err := resolveDirs(cwd, args, cfg.WorkDir)
	if err != nil {
		return 0, err
	}
	// external tools run inside the working directory
	cfg.Tools.ScriptsDir = absFrom(cwd, cfg.Tools.ScriptsDir)

	rc := env.NewRunContext(env.Probe(screen.NewGLFW(), log), sourceDir, workDir, mode)
	log.Info().
		Str("run", rc.RunID).
		Str("source", rc.SourceDir).
		Str("work", rc.WorkDir).
		Str("mode", string(rc.Mode)).
		Msg("Starting")

	runner := gateway.NewExecRunner()
	gw := gateway.New(cfg.Tools, rc, runner)
	for _, missing := range gw.Check() {
		log.Warn().Str("missing", missing).Msg("External tool not found")
	}

	deps := pipeline.Deps{
		Gateway:    gw,
		Normalizer: imageset.NewNormalizer(cfg.Target.Width, cfg.Target.Height, log),
		Packager:   bundle.NewPackager(log),
	}
	if mode == env.ModeObject {
		remover, err := rembg.New(cfg.Matting, cfg.Tools.Python, runner, log)
		if err != nil {
			return 0, err
		}
		deps.Isolator = imageset.NewIsolator(remover, log)
	}

	outcome := pipeline.New(rc, cfg.Tools.Steps, deps, log).Run(ctx)
	return exitCode(log, outcome), nil
}

// defaultWorkDir is created under the current directory when the config
// names no working directory.
const defaultWorkDir = ".eolian"

// resolveDirs returns absolute source and working directories. The source
// defaults to cwd, the working directory to cwd/.eolian. A working directory
// equal to the source is rejected since the reset would delete its artifacts.
func resolveDirs(cwd string, args []string, workDir string) (string, string, error) {
	sourceDir := cwd
	if len(args) == 1 {
		sourceDir = args[0]
	}
	if workDir == "" {
		workDir = filepath.Join(cwd, defaultWorkDir)
	}
	sourceDir = absFrom(cwd, sourceDir)
	workDir = absFrom(cwd, workDir)

	if fi, err := os.Stat(sourceDir); err != nil {
		return "", "", err
	} else if !fi.IsDir() {
		return "", "", fmt.Errorf("%s is not a directory", sourceDir)
	}
	if workspace.SameDir(sourceDir, workDir) {
		return "", "", fmt.Errorf("work_dir %s: %w", workDir, pipeline.ErrSharedWorkDir)
	}
	return sourceDir, workDir, nil
}

func absFrom(cwd, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(cwd, p)
}

func exitCode(log zerolog.Logger, o pipeline.Outcome) int {
	if o.Aborted() {
		log.Error().Err(o.Err).Msg(o.Reason.String())
		return 1
	}
	log.Info().Msg(o.Reason.String())
	return 0
}
