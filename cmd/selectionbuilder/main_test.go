package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "database:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "cli.db") + "\n" +
		"storage:\n  dir: " + filepath.Join(dir, "files") + "\n" +
		"logging:\n  level: error\n  format: text\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootListsCommands(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, name := range []string{"serve", "worker", "builders", "jobs"} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %q in help output:\n%s", name, out)
		}
	}
}

func TestJobsStatsOnEmptyQueue(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "jobs", "stats")
	if err != nil {
		t.Fatalf("jobs stats failed: %v", err)
	}
	if !strings.Contains(out, "Queue is empty") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestBuildersListRequiresUser(t *testing.T) {
	if _, err := run(t, "--config", writeConfig(t), "builders", "list"); err == nil {
		t.Fatal("expected error without --user")
	}
	out, err := run(t, "--config", writeConfig(t), "builders", "list", "--user", "alice")
	if err != nil {
		t.Fatalf("builders list failed: %v", err)
	}
	if !strings.Contains(out, "No builders") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Kind", "Jobs"}, [][]string{{"materialize", "1,234"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(out, "materialize") || !strings.Contains(out, "1,234") {
		t.Fatalf("unexpected table:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty table for no headers")
	}
}
