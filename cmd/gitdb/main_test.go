package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

// run executes the command tree with args against the database at dbPath
// and returns stdout. It fails the test on a non-nil RunE error.
func run(t *testing.T, dbPath string, args ...string) string {
	t.Helper()
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	cmd := newRootCmd(logger, levelVar)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--repo", dbPath}, args...))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("gitdb %v: %v", args, err)
	}
	return out.String()
}

func TestInitThenRefRoundtrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "repo.db")

	run(t, dbPath, "init", "--compression", "zstd")

	out := run(t, dbPath, "ref", "set", "refs/heads/main", "8888888888888888888888888888888888888888")
	if out != "" {
		t.Fatalf("ref set output = %q, want empty", out)
	}

	got := run(t, dbPath, "ref", "get", "refs/heads/main")
	if strings.TrimSpace(got) != "8888888888888888888888888888888888888888" {
		t.Fatalf("ref get = %q", got)
	}

	list := run(t, dbPath, "ref", "list")
	if strings.TrimSpace(list) != "refs/heads/main" {
		t.Fatalf("ref list = %q", list)
	}
}

func TestHashObjectWriteAndCatObject(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "repo.db")
	run(t, dbPath, "init")

	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	cmd := newRootCmd(logger, levelVar)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("hello world"))
	cmd.SetArgs([]string{"--repo", dbPath, "hash-object", "--type", "blob", "--write"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("hash-object: %v", err)
	}
	id := strings.TrimSpace(out.String())
	if len(id) != 40 {
		t.Fatalf("hash-object id = %q, want 40 hex chars", id)
	}

	content := run(t, dbPath, "cat-object", id)
	if content != "hello world" {
		t.Fatalf("cat-object content = %q, want %q", content, "hello world")
	}

	typ := run(t, dbPath, "cat-object", id, "--type")
	if strings.TrimSpace(typ) != "blob" {
		t.Fatalf("cat-object type = %q, want blob", typ)
	}
}

func TestSearchFindsMatchingObject(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "repo.db")
	run(t, dbPath, "init")

	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	cmd := newRootCmd(logger, levelVar)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("needle in a haystack"))
	cmd.SetArgs([]string{"--repo", dbPath, "hash-object", "--write"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("hash-object: %v", err)
	}
	id := strings.TrimSpace(out.String())

	found := run(t, dbPath, "search", "haystack")
	if strings.TrimSpace(found) != id {
		t.Fatalf("search = %q, want %q", found, id)
	}
}

func TestGCReportsZeroOrphansOnFreshRepo(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "repo.db")
	run(t, dbPath, "init")

	out := run(t, dbPath, "gc")
	if strings.TrimSpace(out) != "deleted 0 orphan chunks" {
		t.Fatalf("gc output = %q", out)
	}
}
