package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultLineBuffer is the capacity of an Execution's line channel.
	DefaultLineBuffer = 256

	// DefaultExecTimeout bounds ad-hoc executions.
	DefaultExecTimeout = 30 * time.Second

	maxLineBytes   = 1 << 20
	maxStderrBytes = 1 << 20
	maxOutputBytes = 16 << 20

	// waitDelay bounds how long Wait keeps the pipes open after the child
	// exits or is killed.
	waitDelay = 2 * time.Second
)

// Invocation describes one child process.
type Invocation struct {
	Program string
	Args    []string
	Env     map[string]string
	Dir     string
}

// environ returns the parent environment with Env applied on top.
func (inv Invocation) environ() []string {
	base := os.Environ()
	if len(inv.Env) == 0 {
		return base
	}
	keys := make([]string, 0, len(inv.Env))
	for k := range inv.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := inv.Env[name]; !overridden {
			env = append(env, kv)
		}
	}
	for _, k := range keys {
		env = append(env, k+"="+inv.Env[k])
	}
	return env
}

// Config tunes an Executor. Zero values take defaults.
type Config struct {
	LineBuffer  int
	ExecTimeout time.Duration
}

// Executor starts generator processes.
type Executor struct {
	lineBuffer  int
	execTimeout time.Duration
	logger      *zap.Logger
}

// New creates an Executor.
func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.LineBuffer < 1 {
		cfg.LineBuffer = DefaultLineBuffer
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{lineBuffer: cfg.LineBuffer, execTimeout: cfg.ExecTimeout, logger: logger}
}

func (e *Executor) command(ctx context.Context, inv Invocation) *exec.Cmd {
	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = inv.environ()
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)
	return cmd
}

// Execution is a running generator.
type Execution struct {
	cmd      *exec.Cmd
	lines    chan OutputLine
	done     chan struct{}
	cancel   context.CancelFunc
	logger   *zap.Logger
	exitCode int
	termOnce sync.Once
}

// Start launches inv and begins streaming its output. Cancelling ctx kills
// the child. A launch failure is a *ChildProcessError.
func (e *Executor) Start(ctx context.Context, inv Invocation) (*Execution, error) {
	if inv.Program == "" {
		return nil, fmt.Errorf("%w: empty program", ErrInvalidGenerator)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := e.command(ctx, inv)

	stdout, stdoutW := io.Pipe()
	stderr := &limitedBuffer{max: maxStderrBytes}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &ChildProcessError{Program: inv.Program, Err: err}
	}
	e.logger.Debug("generator started", zap.String("program", inv.Program), zap.Int("pid", cmd.Process.Pid))

	x := &Execution{
		cmd:      cmd,
		lines:    make(chan OutputLine, e.lineBuffer),
		done:     make(chan struct{}),
		cancel:   cancel,
		logger:   e.logger,
		exitCode: -1,
	}
	go x.run(ctx, stdout, stdoutW, stderr)
	return x, nil
}

func (x *Execution) run(ctx context.Context, stdout *io.PipeReader, stdoutW *io.PipeWriter, stderr *limitedBuffer) {
	defer close(x.done)
	defer close(x.lines)
	defer x.cancel()

	var (
		g       errgroup.Group
		waitErr error
	)
	g.Go(func() error {
		return x.readStdout(ctx, stdout)
	})
	g.Go(func() error {
		waitErr = x.cmd.Wait()
		return stdoutW.Close()
	})
	if err := g.Wait(); err != nil {
		x.emit(ctx, Error("failed to read generator output: "+err.Error()))
	}

	if text := strings.TrimRight(stderr.String(), "\n"); text != "" {
		x.emit(ctx, Error(text))
	}

	code := -1
	if x.cmd.ProcessState != nil {
		code = x.cmd.ProcessState.ExitCode()
	}
	x.exitCode = code

	var final OutputLine
	switch {
	case code == 0:
		final = Info("generator exited with code 0")
	case code > 0:
		final = Error(fmt.Sprintf("generator exited with code %d", code))
	default:
		final = Error("generator terminated: " + describeWait(x.cmd, waitErr))
	}
	final.Terminal = true
	x.emit(ctx, final)

	x.logger.Debug("generator finished", zap.Int("exit_code", code), zap.Error(waitErr))
}

// readStdout forwards stdout lines and then drains whatever is left so the
// child never blocks on a full pipe.
func (x *Execution) readStdout(ctx context.Context, stdout *io.PipeReader) error {
	defer func() { _, _ = io.Copy(io.Discard, stdout) }()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if !x.emit(ctx, Log(scanner.Text())) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

func (x *Execution) emit(ctx context.Context, l OutputLine) bool {
	select {
	case x.lines <- l:
		return true
	case <-ctx.Done():
		return false
	}
}

func describeWait(cmd *exec.Cmd, err error) string {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.String()
	}
	if err != nil {
		return err.Error()
	}
	return "unknown"
}

// Lines returns the output channel. It is closed after the terminal line.
func (x *Execution) Lines() <-chan OutputLine {
	return x.lines
}

// Done is closed once the child has exited and all lines were emitted.
func (x *Execution) Done() <-chan struct{} {
	return x.done
}

// ExitCode returns the child's exit code once the execution is done.
func (x *Execution) ExitCode() (int, bool) {
	select {
	case <-x.done:
		return x.exitCode, true
	default:
		return -1, false
	}
}

// Terminate asks the child to stop. Safe to call more than once and after exit.
func (x *Execution) Terminate() {
	x.termOnce.Do(func() {
		if err := terminate(x.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			x.logger.Debug("terminate generator", zap.Error(err))
		}
	})
}

// Kill stops the child immediately and abandons any unread lines.
func (x *Execution) Kill() {
	x.cancel()
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room < len(p) {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}

func (b *limitedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
