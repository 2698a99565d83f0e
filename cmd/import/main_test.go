package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestImportDirSkipsCachedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("Cafe\nTotal 4.50"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("%PDF-1.4"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("skip"), 0644))
	cacheFile := filepath.Join(dir, ".cache.json")
	userID := uuid.New()

	var calls []string
	importFn := func(_ context.Context, id uuid.UUID, name string, _ []byte) error {
		assert.Equal(t, userID, id)
		calls = append(calls, name)
		return nil
	}

	n, err := importDir(context.Background(), dir, cacheFile, userID, importFn, io.Discard, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a.txt", "b.pdf"}, calls)

	calls = nil
	n, err = importDir(context.Background(), dir, cacheFile, userID, importFn, io.Discard, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, calls)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("Cafe\nTotal 5.00"), 0644))
	n, err = importDir(context.Background(), dir, cacheFile, userID, importFn, io.Discard, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a.txt"}, calls)
}

func TestImportDirRetriesFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))
	cacheFile := filepath.Join(dir, ".cache.json")

	failing := func(context.Context, uuid.UUID, string, []byte) error { return errors.New("provider down") }
	n, err := importDir(context.Background(), dir, cacheFile, uuid.New(), failing, io.Discard, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Zero(t, n)

	cache, err := loadCache(cacheFile)
	require.NoError(t, err)
	assert.Empty(t, cache.ImportedFiles)
}

func TestLoadCacheMissingFile(t *testing.T) {
	cache, err := loadCache(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.NotNil(t, cache.ImportedFiles)
	assert.False(t, cache.Seen("x", ""))
}

func TestImportDirReportsProgress(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.png", "c.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0644))
	}

	var out bytes.Buffer
	ok := func(context.Context, uuid.UUID, string, []byte) error { return nil }
	n, err := importDir(context.Background(), dir, filepath.Join(dir, ".cache.json"), uuid.New(), ok, &out, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Contains(t, out.String(), "Importing receipts")
	assert.Contains(t, out.String(), "3/3")
}

func TestImportDirStopsWhenCanceled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	importFn := func(context.Context, uuid.UUID, string, []byte) error {
		called = true
		return nil
	}
	n, err := importDir(ctx, dir, filepath.Join(dir, ".cache.json"), uuid.New(), importFn, io.Discard, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, called)
}

func TestRootCmdFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing user", []string{"--dir", t.TempDir()}, `required flag(s) "user" not set`},
		{"invalid user", []string{"--user", "not-a-uuid"}, "invalid --user"},
		{"unknown flag", []string{"--user", uuid.NewString(), "--bogus"}, "unknown flag: --bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRootCmdDefaults(t *testing.T) {
	cmd := newRootCmd()
	dir, err := cmd.Flags().GetString("dir")
	require.NoError(t, err)
	assert.Equal(t, ".", dir)
	cache, err := cmd.Flags().GetString("cache")
	require.NoError(t, err)
	assert.Equal(t, ".import_cache.json", cache)
}
