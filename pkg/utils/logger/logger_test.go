package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"judgecore/pkg/utils/contextkey"

	"go.uber.org/zap"
)

func TestContextFieldsAreLogged(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	errOut := filepath.Join(dir, "error.log")

	l, err := NewLogger(Config{Level: "debug", Format: "json", OutputPath: out, ErrorPath: errOut})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.SubmissionID, "sub-9")
	l.WithContext(ctx).Info("judging", zap.Int("tests", 3))
	l.WithContext(ctx).Error("sandbox failed")
	_ = l.Sync()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	for _, want := range []string{`"trace_id":"trace-1"`, `"submission_id":"sub-9"`, `"tests":3`} {
		if !strings.Contains(text, want) {
			t.Fatalf("log output missing %s: %s", want, text)
		}
	}

	errData, err := os.ReadFile(errOut)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if !strings.Contains(string(errData), "sandbox failed") || strings.Contains(string(errData), "judging") {
		t.Fatalf("error sink should only hold error entries: %s", errData)
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestGlobalHelpersWithoutInit(t *testing.T) {
	prev := globalLogger
	globalLogger = nil
	defer func() { globalLogger = prev }()

	Info(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("sync without logger: %v", err)
	}
}
