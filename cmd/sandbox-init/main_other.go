//go:build !linux

package main

import (
	"fmt"
	"os"
	"runtime"

	"judgecore/internal/judge/sandbox/engine"
)

func main() {
	_, _ = fmt.Fprintln(os.Stderr, engine.GuardFailurePrefix, "unsupported platform", runtime.GOOS)
	os.Exit(engine.GuardFailureExitCode)
}
