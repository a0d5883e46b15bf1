package migrations

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	dbmigrations "github.com/coachpo/pricebridge/db/migrations"
)

func TestResolveDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "db", "migrations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	file := filepath.Join(root, "0001_provider_results.up.sql")
	if err := os.WriteFile(file, []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "directory", path: dir},
		{name: "missing", path: filepath.Join(root, "absent"), wantErr: fs.ErrNotExist},
		{name: "file", path: file, wantErr: errNotDirectory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolved, err := resolveDir(tc.path)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveDir: %v", err)
			}
			if !filepath.IsAbs(resolved) || resolved != filepath.Clean(resolved) {
				t.Fatalf("expected clean absolute path, got %s", resolved)
			}
		})
	}
	if _, err := resolveDir("  "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestFileURL(t *testing.T) {
	cases := map[string]string{
		"/srv/pricebridge/migrations": "file:///srv/pricebridge/migrations",
		"C:/pricebridge/migrations":   "file:///C:/pricebridge/migrations",
	}
	for in, want := range cases {
		if got := fileURL(in); got != want {
			t.Fatalf("fileURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunValidatesPathBeforeConnecting(t *testing.T) {
	ctx := context.Background()
	err := Run(ctx, "postgresql://invalid", "does-not-exist", Up, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for missing path")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected missing directory error, got %v", err)
	}
}

func TestRunRejectsUnknownDirection(t *testing.T) {
	err := Run(context.Background(), "postgresql://invalid", "", Direction("sideways"), zerolog.Nop())
	if err == nil || !strings.Contains(err.Error(), "sideways") {
		t.Fatalf("expected unknown direction error, got %v", err)
	}
}

func TestEmbeddedSourceListsProviderResults(t *testing.T) {
	src, err := embeddedSource(dbmigrations.Files)
	if err != nil {
		t.Fatalf("embedded source: %v", err)
	}
	defer func() { _ = src.Close() }()
	first, err := src.First()
	if err != nil {
		t.Fatalf("first migration: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first migration version 1, got %d", first)
	}
	_, identifier, err := src.ReadUp(first)
	if err != nil {
		t.Fatalf("read up migration: %v", err)
	}
	if identifier != "provider_results" {
		t.Fatalf("unexpected migration identifier %q", identifier)
	}
}
