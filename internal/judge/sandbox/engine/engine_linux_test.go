//go:build linux

package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"judgecore/internal/judge/sandbox/engine"
)

func TestRunKillsBackgroundChildren(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "survivor")

	res, err := engine.New().Run(context.Background(), engine.Request{
		Cmd:         []string{"sh", "-c", "(sleep 1; echo alive > survivor) & echo 5"},
		Dir:         dir,
		WallTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "5\n" || res.ExitCode != 0 || res.TimedOut {
		t.Fatalf("got %+v", res)
	}
	// The child still holding stdout must not stretch the measured run.
	if res.Elapsed > 500*time.Millisecond {
		t.Fatalf("elapsed = %v, want the leader's run time only", res.Elapsed)
	}

	time.Sleep(1500 * time.Millisecond)
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("background child outlived the run (stat err = %v)", err)
	}
}
