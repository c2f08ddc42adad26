// Package engine runs one child process under a wall-clock bound and captures its output.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultOutputLimitBytes int64 = 64 * 1024
	guardRequestName              = "guard.json"
	drainTimeout                  = time.Second
)

// GuardFailureExitCode is the status sandbox-init exits with when it fails before exec.
// Its stderr then starts with GuardFailurePrefix.
const (
	GuardFailureExitCode = 120
	GuardFailurePrefix   = "sandbox-init:"
)

// ErrCommandNotFound is returned when the executable cannot be resolved.
var ErrCommandNotFound = errors.New("command not found")

// Limits are applied by the guard before exec.
type Limits struct {
	CPUTimeMs   int64 `json:"cpuTimeMs"`
	OutputBytes int64 `json:"outputBytes"`
	StackBytes  int64 `json:"stackBytes"`
	Processes   int64 `json:"processes"`
}

// Guard routes the command through the sandbox-init helper.
type Guard struct {
	Path           string
	SeccompProfile string
	Limits         Limits
}

// GuardRequest is the JSON document sandbox-init reads from stdin.
type GuardRequest struct {
	WorkDir        string   `json:"workDir"`
	Cmd            []string `json:"cmd"`
	Env            []string `json:"env"`
	StdinPath      string   `json:"stdinPath"`
	SeccompProfile string   `json:"seccompProfile"`
	Limits         Limits   `json:"limits"`
}

// Request describes one process run.
type Request struct {
	Cmd []string
	Dir string
	Env []string
	// StdinPath is fed to the process; empty means no input.
	StdinPath        string
	WallTimeout      time.Duration
	OutputLimitBytes int64
	Guard            *Guard
}

// Result holds the raw observations of a finished process.
type Result struct {
	ExitCode        int
	Signaled        bool
	TimedOut        bool
	Stdout          string
	Stderr          string
	OutputTruncated bool
	Elapsed         time.Duration
	// MaxRSSKB is nil when the platform does not report peak resident memory.
	MaxRSSKB *int64
}

// Engine executes a Request.
type Engine interface {
	Run(ctx context.Context, req Request) (Result, error)
}

type processEngine struct{}

// New returns the process engine for the current platform.
func New() Engine {
	return &processEngine{}
}

func (e *processEngine) Run(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}
	limit := req.OutputLimitBytes
	if limit <= 0 {
		limit = defaultOutputLimitBytes
	}

	cmd, cleanup, err := buildCommand(req)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	stdout := newCappedBuffer(limit)
	stderr := newCappedBuffer(limit)
	// Plain file pipes make Wait return when the leader exits, not when every
	// holder of the pipe has gone.
	output, err := newOutputPipes(stdout, stderr)
	if err != nil {
		return Result{}, err
	}
	defer output.close()
	cmd.Stdout = output.stdoutW
	cmd.Stderr = output.stderrW
	configureProcess(cmd)

	start := time.Now()
	err = cmd.Start()
	output.closeWriters()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrCommandNotFound, cmd.Path)
		}
		return Result{}, fmt.Errorf("start process: %w", err)
	}
	output.start()

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if req.WallTimeout > 0 {
			timer := time.NewTimer(req.WallTimeout)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			killProcess(cmd)
		case <-wallTimer:
			timedOut.Store(true)
			killProcess(cmd)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	close(done)
	// Nothing the program forked may outlive the run.
	killProcess(cmd)
	output.drain(drainTimeout)

	if ctxErr := ctx.Err(); ctxErr != nil && !timedOut.Load() {
		return Result{}, ctxErr
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return Result{}, fmt.Errorf("wait process: %w", waitErr)
	}

	state := cmd.ProcessState
	res := Result{
		TimedOut:        timedOut.Load(),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		OutputTruncated: stdout.Truncated() || stderr.Truncated(),
		Elapsed:         elapsed,
	}
	if state != nil {
		res.ExitCode = state.ExitCode()
		res.Signaled = signaled(state)
		res.MaxRSSKB = maxRSSKB(state)
	}
	if req.Guard != nil && res.ExitCode == GuardFailureExitCode && strings.HasPrefix(res.Stderr, GuardFailurePrefix) {
		return Result{}, fmt.Errorf("run guard failed: %s", strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

// outputPipes copies the child's stdout and stderr into capped buffers.
type outputPipes struct {
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
	stdout, stderr   io.Writer
	wg               sync.WaitGroup
}

func newOutputPipes(stdout, stderr io.Writer) (*outputPipes, error) {
	p := &outputPipes{stdout: stdout, stderr: stderr}
	var err error
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	return p, nil
}

func (p *outputPipes) start() {
	p.wg.Add(2)
	go p.copy(p.stdout, p.stdoutR)
	go p.copy(p.stderr, p.stderrR)
}

func (p *outputPipes) copy(dst io.Writer, src *os.File) {
	defer p.wg.Done()
	_, _ = io.Copy(dst, src)
}

// closeWriters drops the parent's copies of the write ends so reads see EOF
// once the child side is closed.
func (p *outputPipes) closeWriters() {
	for _, f := range []*os.File{p.stdoutW, p.stderrW} {
		if f != nil {
			_ = f.Close()
		}
	}
}

// drain waits for buffered output. A writer that escaped the process group
// is cut off after timeout.
func (p *outputPipes) drain(timeout time.Duration) {
	copied := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(copied)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-copied:
	case <-timer.C:
		p.close()
		<-copied
	}
}

func (p *outputPipes) close() {
	for _, f := range []*os.File{p.stdoutR, p.stdoutW, p.stderrR, p.stderrW} {
		if f != nil {
			_ = f.Close()
		}
	}
}

func buildCommand(req Request) (*exec.Cmd, func(), error) {
	noop := func() {}
	if req.Guard == nil || req.Guard.Path == "" {
		path, err := exec.LookPath(req.Cmd[0])
		if err != nil {
			return nil, noop, fmt.Errorf("%w: %s", ErrCommandNotFound, req.Cmd[0])
		}
		cmd := exec.Command(path, req.Cmd[1:]...)
		cmd.Dir = req.Dir
		cmd.Env = req.Env
		if req.StdinPath == "" {
			return cmd, noop, nil
		}
		stdin, err := os.Open(req.StdinPath)
		if err != nil {
			return nil, noop, fmt.Errorf("open stdin: %w", err)
		}
		cmd.Stdin = stdin
		return cmd, func() { _ = stdin.Close() }, nil
	}

	payload, err := json.Marshal(GuardRequest{
		WorkDir:        req.Dir,
		Cmd:            req.Cmd,
		Env:            req.Env,
		StdinPath:      req.StdinPath,
		SeccompProfile: req.Guard.SeccompProfile,
		Limits:         req.Guard.Limits,
	})
	if err != nil {
		return nil, noop, fmt.Errorf("encode guard request: %w", err)
	}
	requestPath := filepath.Join(req.Dir, guardRequestName)
	if err := os.WriteFile(requestPath, payload, 0o600); err != nil {
		return nil, noop, fmt.Errorf("write guard request: %w", err)
	}
	stdin, err := os.Open(requestPath)
	if err != nil {
		return nil, noop, fmt.Errorf("open guard request: %w", err)
	}
	cmd := exec.Command(req.Guard.Path)
	cmd.Dir = req.Dir
	cmd.Stdin = stdin
	return cmd, func() {
		_ = stdin.Close()
		_ = os.Remove(requestPath)
	}, nil
}

func validateRequest(req Request) error {
	if len(req.Cmd) == 0 || req.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if req.Dir == "" {
		return fmt.Errorf("work dir is required")
	}
	return nil
}
