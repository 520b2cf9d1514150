package gateway

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Output is what a finished external process left behind.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes one external command and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Output, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		out.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		}
		return out, err
	}
	return out, nil
}
