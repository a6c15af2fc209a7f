package executor

import (
	"context"
	"errors"
	"os/exec"

	"github.com/fyrsmithlabs/eventforge/internal/logformat"
	"go.uber.org/zap"
)

// Capture is the result of an ad-hoc execution.
type Capture struct {
	Output   string
	Format   logformat.Format
	ExitCode int
}

// Execute runs inv to completion within the executor's timeout. The output
// is stdout followed by "\n\nErrors:\n" and stderr when stderr is non-empty.
// A non-zero exit is not an error.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (*Capture, error) {
	if inv.Program == "" {
		return nil, ErrInvalidGenerator
	}

	runCtx, cancel := context.WithTimeout(ctx, e.execTimeout)
	defer cancel()

	cmd := e.command(runCtx, inv)
	stdout := &limitedBuffer{max: maxOutputBytes}
	stderr := &limitedBuffer{max: maxStderrBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		e.logger.Warn("generator timed out", zap.String("program", inv.Program), zap.Duration("timeout", e.execTimeout))
		return nil, ErrTimedOut
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, &ChildProcessError{Program: inv.Program, Err: err}
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n\nErrors:\n" + stderr.String()
	}
	return &Capture{
		Output:   output,
		Format:   logformat.Classify(output),
		ExitCode: cmd.ProcessState.ExitCode(),
	}, nil
}
