package mlt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func cacheTestProgram() *Program {
	return &Program{
		Source: "views/a.ml.html",
		Props:  map[string]any{"type": "info"},
		Ops: []Op{
			{Kind: OpText, Text: "hello "},
			{Kind: OpEcho, Expr: "name"},
			{Kind: OpIf, Branches: []Branch{{Cond: "ok", Body: []Op{{Kind: OpText, Text: "y"}}}}, Else: []Op{{Kind: OpText, Text: "n"}}},
		},
	}
}

func TestDiskCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mod := time.Now().Add(-time.Hour)
	prog := cacheTestProgram()

	c := newDiskCache(dir)
	require.NoError(t, c.store("pages/a", prog, mod))

	got, ok := c.load("pages/a", mod)
	require.True(t, ok)
	require.Equal(t, prog, got)

	// a fresh cache over the same directory reads the artifact back
	c2 := newDiskCache(dir)
	got, ok = c2.load("pages/a", mod)
	require.True(t, ok)
	require.Equal(t, prog, got)
}

func TestDiskCacheStaleness(t *testing.T) {
	dir := t.TempDir()
	c := newDiskCache(dir)
	require.NoError(t, c.store("a", cacheTestProgram(), time.Now().Add(-time.Hour)))

	_, ok := c.load("a", time.Now().Add(time.Hour))
	require.False(t, ok, "a source newer than the artifact must miss")
}

func TestDiskCacheInvalidateFallsBackToDisk(t *testing.T) {
	dir := t.TempDir()
	mod := time.Now().Add(-time.Hour)
	c := newDiskCache(dir)
	require.NoError(t, c.store("a", cacheTestProgram(), mod))

	c.invalidate("a")
	got, ok := c.load("a", mod)
	require.True(t, ok, "invalidate drops memory only, the disk artifact revalidates")
	require.Equal(t, cacheTestProgram(), got)
}

func TestDiskCacheClear(t *testing.T) {
	dir := t.TempDir()
	c := newDiskCache(dir)
	require.NoError(t, c.store("a", cacheTestProgram(), time.Now().Add(-time.Hour)))

	require.NoError(t, c.clear())

	_, ok := c.load("a", time.Now().Add(-time.Hour))
	require.False(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDiskCacheCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	c := newDiskCache(dir)
	require.NoError(t, os.WriteFile(c.artifactPath("a"), []byte("not json"), 0o644))

	_, ok := c.load("a", time.Now().Add(-time.Hour))
	require.False(t, ok, "an unreadable artifact is a miss, not a failure")
}

func TestDiskCacheMemoryOnly(t *testing.T) {
	c := newDiskCache("")
	mod := time.Now()
	require.NoError(t, c.store("a", cacheTestProgram(), mod))

	_, ok := c.load("a", mod)
	require.True(t, ok)

	c.invalidate("a")
	_, ok = c.load("a", mod)
	require.False(t, ok, "without a cache dir there is no disk fallback")

	require.NoError(t, c.clear())
}

func TestDiskCacheLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	c := newDiskCache(dir)
	require.NoError(t, c.store("pages/home", cacheTestProgram(), time.Now()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "pages_home"+artifactExt, entries[0].Name())
}

func TestDiskCacheArtifactPathFlattens(t *testing.T) {
	c := newDiskCache("cache")
	require.Equal(t, filepath.Join("cache", "pages_home.json"), c.artifactPath("pages/home"))
	require.Equal(t, filepath.Join("cache", "pages_home.json"), c.artifactPath("pages.home"))
}
