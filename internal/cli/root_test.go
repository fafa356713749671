package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := appVersion
	origCommit := appCommit
	origDate := appDate
	defer func() {
		appVersion = origVersion
		appCommit = origCommit
		appDate = origDate
	}()

	SetVersionInfo("1.2.3", "abc1234", "2026-02-13")

	if appVersion != "1.2.3" {
		t.Errorf("appVersion = %q, want 1.2.3", appVersion)
	}
	if appCommit != "abc1234" {
		t.Errorf("appCommit = %q, want abc1234", appCommit)
	}
	if appDate != "2026-02-13" {
		t.Errorf("appDate = %q, want 2026-02-13", appDate)
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"nonexistent-command"})
	defer rootCmd.SetArgs(nil)

	err := Execute()
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecute_VersionSubcommand(t *testing.T) {
	origVersion := appVersion
	origCommit := appCommit
	origDate := appDate
	defer func() {
		appVersion = origVersion
		appCommit = origCommit
		appDate = origDate
	}()
	SetVersionInfo("test-ver", "test-commit", "test-date")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"tmsync test-ver", "commit: test-commit", "built:  test-date"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output %q missing %q", out.String(), want)
		}
	}
}

func TestRootCommand_Registration(t *testing.T) {
	want := []string{"version", "run", "sync", "status", "metrics", "alerts", "dashboard", "config", "mcp"}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("%s command not registered on root", name)
		}
	}
}

func TestRequireSync(t *testing.T) {
	origSvc, origErr := SyncSvc, SyncErr
	defer func() { SyncSvc, SyncErr = origSvc, origErr }()

	SyncSvc = nil
	SyncErr = errors.New("jira.base_url is required")
	err := requireSync()
	if err == nil || !strings.Contains(err.Error(), "sync is unavailable") || !strings.Contains(err.Error(), "base_url") {
		t.Errorf("requireSync() = %v", err)
	}

	SyncErr = nil
	if err := requireSync(); err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("requireSync() = %v", err)
	}

	SyncSvc = &fakeSyncService{}
	if err := requireSync(); err != nil {
		t.Errorf("requireSync() = %v, want nil", err)
	}
}
