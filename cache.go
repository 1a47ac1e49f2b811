package mlt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const artifactExt = ".json"

// diskCache stores compiled units as JSON artifacts under a cache root, with
// an in-memory map in front. An artifact is stale when it is absent or its
// modification time is older than the source's. Writes go through a
// temporary file and a rename so concurrent readers never observe a partial
// artifact; concurrent recompiles of the same cold unit race benignly (last
// writer wins).
type diskCache struct {
	dir string

	mu     sync.Mutex
	memory map[string]memEntry
}

type memEntry struct {
	prog   *Program
	srcMod time.Time
}

func newDiskCache(dir string) *diskCache {
	return &diskCache{dir: dir, memory: map[string]memEntry{}}
}

// artifactPath maps a logical name onto a flat artifact filename.
func (c *diskCache) artifactPath(name string) string {
	flat := strings.NewReplacer("/", "_", ".", "_").Replace(name)
	return filepath.Join(c.dir, flat+artifactExt)
}

// load returns the cached program for name if it is at least as new as
// srcMod, checking memory first and the disk artifact second.
func (c *diskCache) load(name string, srcMod time.Time) (*Program, bool) {
	c.mu.Lock()
	entry, ok := c.memory[name]
	c.mu.Unlock()
	if ok && !entry.srcMod.Before(srcMod) {
		return entry.prog, true
	}

	if c.dir == "" {
		return nil, false
	}
	path := c.artifactPath(name)
	info, err := os.Stat(path)
	if err != nil || info.ModTime().Before(srcMod) {
		return nil, false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var prog Program
	if err := json.Unmarshal(raw, &prog); err != nil {
		// unreadable artifact, treat as a miss and recompile over it
		return nil, false
	}
	c.mu.Lock()
	c.memory[name] = memEntry{prog: &prog, srcMod: srcMod}
	c.mu.Unlock()
	return &prog, true
}

// store persists the program and refreshes the memory entry.
func (c *diskCache) store(name string, prog *Program, srcMod time.Time) error {
	c.mu.Lock()
	c.memory[name] = memEntry{prog: prog, srcMod: srcMod}
	c.mu.Unlock()

	if c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	raw, err := json.Marshal(prog)
	if err != nil {
		return fmt.Errorf("encoding compiled unit %q: %w", name, err)
	}
	tmp, err := os.CreateTemp(c.dir, "."+filepath.Base(c.artifactPath(name))+".tmp-*")
	if err != nil {
		return fmt.Errorf("writing compiled unit %q: %w", name, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing compiled unit %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing compiled unit %q: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), c.artifactPath(name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storing compiled unit %q: %w", name, err)
	}
	return nil
}

// invalidate drops the in-memory entry; the disk artifact stays and is
// revalidated against the source's modification time on next load.
func (c *diskCache) invalidate(name string) {
	c.mu.Lock()
	delete(c.memory, name)
	c.mu.Unlock()
}

// clear removes every compiled artifact and empties the memory map.
func (c *diskCache) clear() error {
	c.mu.Lock()
	c.memory = map[string]memEntry{}
	c.mu.Unlock()

	if c.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), artifactExt) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
