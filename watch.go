package mlt

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates cached compiled units when their sources change, so the
// next render recompiles immediately instead of waiting for a modtime
// comparison against a possibly coarse-grained clock. It blocks until ctx is
// done or the watcher fails.
func (e *Engine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	addDirs := func(root string) error {
		return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(p)
			}
			return nil
		})
	}
	if err := addDirs(e.viewsDir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				// newly created directories need watching too
				_ = addDirs(e.viewsDir)
			}
			if !strings.HasSuffix(event.Name, SourceExt) {
				continue
			}
			rel, err := filepath.Rel(e.viewsDir, event.Name)
			if err != nil {
				continue
			}
			e.cache.invalidate(normalizeName(filepath.ToSlash(rel)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
