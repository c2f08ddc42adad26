// Package sandbox compiles and runs one submission against one input.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"judgecore/internal/judge/sandbox/engine"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultCompileTimeout   = 10 * time.Second
	defaultOutputLimitBytes = 64 * 1024
	stdinFileName           = "stdin.txt"
)

// OutcomeKind classifies a single execution.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "Success"
	OutcomeCompileFailure OutcomeKind = "CompileFailure"
	OutcomeRuntimeFailure OutcomeKind = "RuntimeFailure"
	OutcomeTimeout        OutcomeKind = "Timeout"
)

// Outcome is the result of one Execute call.
// Stdout and ElapsedMs are set for Success, Diagnostic for CompileFailure, Message for RuntimeFailure.
type Outcome struct {
	Kind       OutcomeKind
	Stdout     string
	ElapsedMs  int64
	MemoryKB   *int64
	Diagnostic string
	Message    string
}

// Sandbox executes untrusted programs.
// An error is returned only when the environment itself fails.
type Sandbox interface {
	Execute(ctx context.Context, lang Language, source, stdin string, timeLimit time.Duration) (Outcome, error)
}

// Config controls the executor.
type Config struct {
	WorkRoot         string         `yaml:"workRoot"`
	CompileTimeout   time.Duration  `yaml:"compileTimeout"`
	OutputLimitBytes int64          `yaml:"outputLimitBytes"`
	GuardPath        string         `yaml:"guardPath"`
	SeccompProfile   string         `yaml:"seccompProfile"`
	Processes        int64          `yaml:"processes"`
	Languages        []LanguageSpec `yaml:"languages"`
}

// Executor implements Sandbox on top of an engine.
type Executor struct {
	cfg       Config
	languages map[Language]LanguageSpec
	engine    engine.Engine
}

// NewExecutor builds an executor; a nil runner uses the platform engine.
func NewExecutor(cfg Config, runner engine.Engine) (*Executor, error) {
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = defaultCompileTimeout
	}
	if cfg.OutputLimitBytes <= 0 {
		cfg.OutputLimitBytes = defaultOutputLimitBytes
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = os.TempDir()
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	if runner == nil {
		runner = engine.New()
	}
	return &Executor{
		cfg:       cfg,
		languages: MergeLanguages(cfg.Languages),
		engine:    runner,
	}, nil
}

// Supports reports whether lang is in the language table.
func (e *Executor) Supports(lang Language) bool {
	_, ok := e.languages[lang]
	return ok
}

func (e *Executor) Execute(ctx context.Context, lang Language, source, stdin string, timeLimit time.Duration) (Outcome, error) {
	spec, ok := e.languages[lang]
	if !ok {
		return Outcome{}, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", lang)
	}

	dir, err := os.MkdirTemp(e.cfg.WorkRoot, "run-*")
	if err != nil {
		return Outcome{}, e.unavailable(ctx, err, "create scratch dir")
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", dir), zap.Error(err))
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, spec.SourceFile), []byte(source), 0o644); err != nil {
		return Outcome{}, e.unavailable(ctx, err, "write source")
	}
	stdinPath := filepath.Join(dir, stdinFileName)
	if err := os.WriteFile(stdinPath, []byte(stdin), 0o644); err != nil {
		return Outcome{}, e.unavailable(ctx, err, "write stdin")
	}

	if spec.Compiled() {
		outcome, compiled, err := e.compile(ctx, spec, dir)
		if err != nil || !compiled {
			return outcome, err
		}
	}
	return e.run(ctx, spec, dir, stdinPath, timeLimit)
}

func (e *Executor) compile(ctx context.Context, spec LanguageSpec, dir string) (Outcome, bool, error) {
	cmd, err := expandCommand(spec.CompileCmd, spec, dir)
	if err != nil {
		return Outcome{}, false, appErr.Wrapf(err, appErr.SandboxUnavailable, "compile command for %s", spec.ID)
	}
	res, err := e.engine.Run(ctx, engine.Request{
		Cmd:              cmd,
		Dir:              dir,
		WallTimeout:      e.cfg.CompileTimeout,
		OutputLimitBytes: e.cfg.OutputLimitBytes,
	})
	if err != nil {
		return Outcome{}, false, e.unavailable(ctx, err, "run compiler")
	}
	if res.TimedOut {
		return Outcome{Kind: OutcomeCompileFailure, Diagnostic: "compilation timed out"}, false, nil
	}
	diagnostic := strings.TrimSpace(res.Stderr)
	if res.ExitCode != 0 || diagnostic != "" {
		if diagnostic == "" {
			diagnostic = strings.TrimSpace(res.Stdout)
		}
		if diagnostic == "" {
			diagnostic = fmt.Sprintf("compiler exited with status %d", res.ExitCode)
		}
		return Outcome{Kind: OutcomeCompileFailure, Diagnostic: diagnostic}, false, nil
	}
	return Outcome{}, true, nil
}

func (e *Executor) run(ctx context.Context, spec LanguageSpec, dir, stdinPath string, timeLimit time.Duration) (Outcome, error) {
	cmd, err := expandCommand(spec.RunCmd, spec, dir)
	if err != nil {
		return Outcome{}, appErr.Wrapf(err, appErr.SandboxUnavailable, "run command for %s", spec.ID)
	}
	req := engine.Request{
		Cmd:              cmd,
		Dir:              dir,
		StdinPath:        stdinPath,
		WallTimeout:      timeLimit,
		OutputLimitBytes: e.cfg.OutputLimitBytes,
	}
	if e.cfg.GuardPath != "" {
		req.Guard = &engine.Guard{
			Path:           e.cfg.GuardPath,
			SeccompProfile: e.cfg.SeccompProfile,
			Limits: engine.Limits{
				CPUTimeMs:   timeLimit.Milliseconds() + 1000,
				OutputBytes: e.cfg.OutputLimitBytes,
				Processes:   e.cfg.Processes,
			},
		}
	}
	res, err := e.engine.Run(ctx, req)
	if err != nil {
		return Outcome{}, e.unavailable(ctx, err, "run program")
	}
	if res.TimedOut {
		return Outcome{Kind: OutcomeTimeout, ElapsedMs: res.Elapsed.Milliseconds(), MemoryKB: res.MaxRSSKB}, nil
	}
	if res.ExitCode != 0 || res.Signaled {
		return Outcome{
			Kind:      OutcomeRuntimeFailure,
			Message:   runtimeMessage(res),
			ElapsedMs: res.Elapsed.Milliseconds(),
			MemoryKB:  res.MaxRSSKB,
		}, nil
	}
	return Outcome{
		Kind:      OutcomeSuccess,
		Stdout:    res.Stdout,
		ElapsedMs: res.Elapsed.Milliseconds(),
		MemoryKB:  res.MaxRSSKB,
	}, nil
}

func runtimeMessage(res engine.Result) string {
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		return msg
	}
	if res.Signaled {
		return "process terminated by signal"
	}
	return fmt.Sprintf("process exited with status %d", res.ExitCode)
}

func (e *Executor) unavailable(ctx context.Context, err error, step string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Error(ctx, "sandbox environment failure", zap.String("step", step), zap.Error(err))
	return appErr.Wrapf(err, appErr.SandboxUnavailable, "sandbox %s failed", step)
}
