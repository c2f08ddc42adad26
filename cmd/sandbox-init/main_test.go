//go:build linux

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"judgecore/internal/judge/sandbox/engine"

	"github.com/seccomp/libseccomp-golang"
)

func TestDecodeAndValidateRequest(t *testing.T) {
	req, err := decodeRequest(strings.NewReader(`{"workDir":"/tmp/x","cmd":["./main"],"limits":{"cpuTimeMs":1500,"processes":8}}`))
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if req.WorkDir != "/tmp/x" || req.Limits.CPUTimeMs != 1500 || req.Limits.Processes != 8 {
		t.Fatalf("request = %+v", req)
	}
	if err := validateRequest(req); err != nil {
		t.Fatalf("validateRequest: %v", err)
	}
	if err := validateRequest(engine.GuardRequest{WorkDir: "/tmp"}); err == nil {
		t.Fatal("expected missing command error")
	}
	if _, err := decodeRequest(strings.NewReader("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestBuildEnvAddsPath(t *testing.T) {
	env := buildEnv([]string{"LANG=C"})
	if len(env) != 2 || env[1] != defaultPath {
		t.Fatalf("env = %v", env)
	}
	custom := []string{"PATH=/opt/bin"}
	if got := buildEnv(custom); len(got) != 1 || got[0] != "PATH=/opt/bin" {
		t.Fatalf("env = %v", got)
	}
}

func TestParseSeccompAction(t *testing.T) {
	tests := []struct {
		in      string
		want    seccomp.ScmpAction
		wantErr bool
	}{
		{in: "SCMP_ACT_ALLOW", want: seccomp.ActAllow},
		{in: "scmp_act_kill_process", want: seccomp.ActKillProcess},
		{in: "SCMP_ACT_TRACE", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseSeccompAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err = %v", tt.in, err)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("%s: got %v", tt.in, got)
		}
	}
	errno, err := parseSeccompAction("SCMP_ACT_ERRNO")
	if err != nil || errno.GetReturnCode() == 0 {
		t.Fatalf("errno action = %v, %v", errno, err)
	}
}

func TestLoadDefaultProfile(t *testing.T) {
	cfg, err := loadProfile(filepath.Join("..", "..", "configs", "seccomp", "deny-network.json"))
	if err != nil {
		t.Fatalf("loadProfile: %v", err)
	}
	if cfg.DefaultAction != "SCMP_ACT_ALLOW" || len(cfg.Syscalls) == 0 {
		t.Fatalf("profile = %+v", cfg)
	}
	found := false
	for _, rule := range cfg.Syscalls {
		for _, name := range rule.Names {
			if name == "socket" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("default profile must deny socket")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadProfile(path); err == nil {
		t.Fatal("expected parse error")
	}
}
