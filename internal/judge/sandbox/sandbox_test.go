package sandbox_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"judgecore/internal/judge/sandbox"
	"judgecore/internal/judge/sandbox/engine"
	appErr "judgecore/pkg/errors"
)

// Test languages are backed by sh so the suite does not need real toolchains.
var shellLanguages = []sandbox.LanguageSpec{
	{ID: sandbox.LanguagePython, RunCmd: "sh {src}"},
	{
		ID:         sandbox.LanguageC,
		CompileCmd: `sh -c "if grep -q SYNTAX {src}; then echo 'main.c:1: error: expected ;' >&2; exit 1; fi; cp {src} {bin}"`,
		RunCmd:     "sh {bin}",
	},
}

func newShellExecutor(t *testing.T) (*sandbox.Executor, string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root := t.TempDir()
	executor, err := sandbox.NewExecutor(sandbox.Config{WorkRoot: root, Languages: shellLanguages}, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return executor, root
}

func TestExecuteOutcomes(t *testing.T) {
	t.Parallel()
	executor, root := newShellExecutor(t)

	tests := []struct {
		name      string
		lang      sandbox.Language
		source    string
		stdin     string
		timeLimit time.Duration
		wantKind  sandbox.OutcomeKind
		check     func(t *testing.T, out sandbox.Outcome)
	}{
		{
			name:      "sum",
			lang:      sandbox.LanguagePython,
			source:    "read a b\necho $((a+b))\n",
			stdin:     "2 3\n",
			timeLimit: 5 * time.Second,
			wantKind:  sandbox.OutcomeSuccess,
			check: func(t *testing.T, out sandbox.Outcome) {
				if out.Stdout != "5\n" {
					t.Fatalf("stdout = %q", out.Stdout)
				}
				if runtime.GOOS == "linux" && out.MemoryKB == nil {
					t.Fatal("expected peak memory on linux")
				}
			},
		},
		{
			name:      "compiled sum",
			lang:      sandbox.LanguageC,
			source:    "read a b\necho $((a+b))\n",
			stdin:     "40 2\n",
			timeLimit: 5 * time.Second,
			wantKind:  sandbox.OutcomeSuccess,
			check: func(t *testing.T, out sandbox.Outcome) {
				if out.Stdout != "42\n" {
					t.Fatalf("stdout = %q", out.Stdout)
				}
			},
		},
		{
			name:      "compile error",
			lang:      sandbox.LanguageC,
			source:    "SYNTAX\n",
			timeLimit: 5 * time.Second,
			wantKind:  sandbox.OutcomeCompileFailure,
			check: func(t *testing.T, out sandbox.Outcome) {
				if out.Diagnostic != "main.c:1: error: expected ;" {
					t.Fatalf("diagnostic = %q", out.Diagnostic)
				}
			},
		},
		{
			name:      "runtime error",
			lang:      sandbox.LanguagePython,
			source:    "echo 'division by zero' >&2\nexit 1\n",
			timeLimit: 5 * time.Second,
			wantKind:  sandbox.OutcomeRuntimeFailure,
			check: func(t *testing.T, out sandbox.Outcome) {
				if out.Message != "division by zero" {
					t.Fatalf("message = %q", out.Message)
				}
			},
		},
		{
			name:      "infinite loop",
			lang:      sandbox.LanguagePython,
			source:    "while :; do :; done\n",
			timeLimit: 300 * time.Millisecond,
			wantKind:  sandbox.OutcomeTimeout,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := executor.Execute(context.Background(), tt.lang, tt.source, tt.stdin, tt.timeLimit)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if out.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s (%+v)", out.Kind, tt.wantKind, out)
			}
			if tt.check != nil {
				tt.check(t, out)
			}
		})
	}

	t.Cleanup(func() {
		entries, err := os.ReadDir(root)
		if err != nil {
			t.Errorf("read work root: %v", err)
			return
		}
		if len(entries) != 0 {
			t.Errorf("scratch dirs left behind: %d", len(entries))
		}
	})
}

type countingEngine struct {
	calls  int
	result engine.Result
	err    error
}

func (c *countingEngine) Run(ctx context.Context, req engine.Request) (engine.Result, error) {
	c.calls++
	return c.result, c.err
}

func TestCompileFailureSkipsRun(t *testing.T) {
	t.Parallel()
	fake := &countingEngine{result: engine.Result{ExitCode: 1, Stderr: "error: x"}}
	executor, err := sandbox.NewExecutor(sandbox.Config{WorkRoot: t.TempDir()}, fake)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	out, err := executor.Execute(context.Background(), sandbox.LanguageCPP, "int main(", "", time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Kind != sandbox.OutcomeCompileFailure || fake.calls != 1 {
		t.Fatalf("kind=%s calls=%d", out.Kind, fake.calls)
	}
}

func TestCompilerWarningIsCompileFailure(t *testing.T) {
	t.Parallel()
	fake := &countingEngine{result: engine.Result{ExitCode: 0, Stderr: "warning: unused variable"}}
	executor, err := sandbox.NewExecutor(sandbox.Config{WorkRoot: t.TempDir()}, fake)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	out, err := executor.Execute(context.Background(), sandbox.LanguageJava, "class Main {}", "", time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Kind != sandbox.OutcomeCompileFailure || out.Diagnostic != "warning: unused variable" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestEnvironmentFailures(t *testing.T) {
	t.Parallel()
	fake := &countingEngine{err: engine.ErrCommandNotFound}
	executor, err := sandbox.NewExecutor(sandbox.Config{WorkRoot: t.TempDir()}, fake)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	_, err = executor.Execute(context.Background(), sandbox.LanguagePython, "print(1)", "", time.Second)
	if appErr.GetCode(err) != appErr.SandboxUnavailable || !errors.Is(err, engine.ErrCommandNotFound) {
		t.Fatalf("err = %v, want SandboxUnavailable wrapping ErrCommandNotFound", err)
	}

	_, err = executor.Execute(context.Background(), sandbox.Language("cobol"), "", "", time.Second)
	if appErr.GetCode(err) != appErr.LanguageNotSupported {
		t.Fatalf("err = %v, want LanguageNotSupported", err)
	}
}

func TestParseLanguage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want sandbox.Language
		ok   bool
	}{
		{in: "C++", want: sandbox.LanguageCPP, ok: true},
		{in: "python3", want: sandbox.LanguagePython, ok: true},
		{in: " js ", want: sandbox.LanguageJavaScript, ok: true},
		{in: "java", want: sandbox.LanguageJava, ok: true},
		{in: "rust", ok: false},
	}
	for _, tt := range tests {
		got, ok := sandbox.ParseLanguage(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseLanguage(%q) = %q, %v", tt.in, got, ok)
		}
	}
}
