// Package mlt is a Blade-style template compiler and renderer. Templates are
// plain files with directives ({{ }}, @if, @foreach, @extends/@section,
// @include, <x-component> tags with slots); the engine rewrites them into a
// compiled program, caches the compiled form on disk keyed by source
// modification time, and executes it against per-request data.
package mlt

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// SourceExt is the file suffix of template sources.
const SourceExt = ".ml.html"

// Engine resolves, compiles, caches and renders templates rooted at a views
// directory. An Engine is safe for concurrent renders: every render call
// builds its own scope stack and output buffer.
type Engine struct {
	viewsDir      string
	componentDirs []string
	evaluator     Evaluator
	funcs         FuncMap
	cache         *diskCache
	compiles      atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithCacheDir enables the on-disk compiled cache under dir.
func WithCacheDir(dir string) Option {
	return func(e *Engine) {
		e.cache = newDiskCache(dir)
	}
}

// WithComponentDirs sets the ordered list of directories (relative to the
// views root) searched when resolving component tags. The first directory
// containing a matching file wins.
func WithComponentDirs(dirs ...string) Option {
	return func(e *Engine) {
		e.componentDirs = dirs
	}
}

// WithEvaluator replaces the default expression evaluator.
func WithEvaluator(ev Evaluator) Option {
	return func(e *Engine) {
		e.evaluator = ev
	}
}

// New creates an engine reading templates from viewsDir.
func New(viewsDir string, opts ...Option) *Engine {
	e := &Engine{
		viewsDir:      viewsDir,
		componentDirs: []string{"components", "layouts"},
		funcs:         FuncMap{},
		cache:         newDiskCache(""),
	}
	registerDefaultFuncs(e.funcs)
	for _, opt := range opts {
		opt(e)
	}
	if e.evaluator == nil {
		e.evaluator = NewEvaluator(e.funcs)
	}
	return e
}

// Funcs registers helper callables available to template expressions,
// replacing defaults of the same name. The host wires its authentication
// check, translation lookup, CSRF token accessor and similar here.
func (e *Engine) Funcs(funcs FuncMap) {
	for name, fn := range funcs {
		e.funcs[name] = fn
	}
}

// Render executes the named template with data and writes the result.
// Nothing is written when rendering fails.
func (e *Engine) Render(w io.Writer, name string, data map[string]any) error {
	out, err := e.RenderString(name, data)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// RenderString executes the named template with data and returns the output.
func (e *Engine) RenderString(name string, data map[string]any) (string, error) {
	name = normalizeName(name)
	prog, err := e.program(name)
	if err != nil {
		return "", err
	}
	scope := NewScope(data)
	x := &executor{eng: e, scope: scope}
	var buf bytes.Buffer
	if _, _, err := x.run(prog.Ops, &buf); err != nil {
		if _, ok := err.(*RuntimeError); ok {
			return "", err
		}
		return "", &RuntimeError{Name: name, Cause: err}
	}
	return buf.String(), nil
}

// ClearCache deletes every compiled artifact under the cache root.
func (e *Engine) ClearCache() error {
	return e.cache.clear()
}

// CompileCount reports how many units have been (re)compiled since the
// engine was created. Useful for verifying cache behavior.
func (e *Engine) CompileCount() int64 {
	return e.compiles.Load()
}

// CompileAll eagerly compiles every template under the views root.
func (e *Engine) CompileAll() error {
	return filepath.WalkDir(e.viewsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, SourceExt) {
			return nil
		}
		rel, err := filepath.Rel(e.viewsDir, p)
		if err != nil {
			return err
		}
		_, err = e.program(normalizeName(filepath.ToSlash(rel)))
		return err
	})
}

// program returns the compiled unit for a logical view name. Names are
// canonicalized to slash form so dotted and slashed spellings share one
// cache entry.
func (e *Engine) program(name string) (*Program, error) {
	name = strings.ReplaceAll(normalizeName(name), ".", "/")
	p, mod, err := e.resolveView(name)
	if err != nil {
		return nil, err
	}
	return e.programAt(name, p, mod)
}

// componentProgram resolves a component name against the ordered component
// directories and returns its compiled unit.
func (e *Engine) componentProgram(name string) (*Program, error) {
	slashed := strings.ReplaceAll(normalizeName(name), ".", "/")
	var tried []string
	for _, dir := range e.componentDirs {
		rel := path.Join(dir, slashed)
		full := filepath.Join(e.viewsDir, filepath.FromSlash(rel)+SourceExt)
		info, err := os.Stat(full)
		if err != nil {
			tried = append(tried, full)
			continue
		}
		return e.programAt(rel, full, info.ModTime())
	}
	return nil, &NotFoundError{Name: name, Tried: tried}
}

// programAt compiles (or loads from cache) the unit at a known source path.
// When the unit extends a layout the staleness fingerprint covers both files
// and the compiled unit is the merged result.
func (e *Engine) programAt(name, srcPath string, mod time.Time) (*Program, error) {
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", srcPath, err)
	}
	pre, err := preprocess(name, string(raw))
	if err != nil {
		return nil, err
	}

	effMod := mod
	var parentPre *preprocessed
	parentName := ""
	if m := reExtends.FindStringSubmatch(pre.text); m != nil {
		parentName = normalizeName(m[1])
		ppath, pmod, err := e.resolveView(parentName)
		if err != nil {
			return nil, err
		}
		praw, err := os.ReadFile(ppath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", ppath, err)
		}
		parentPre, err = preprocess(parentName, string(praw))
		if err != nil {
			return nil, err
		}
		if pmod.After(effMod) {
			effMod = pmod
		}
	}

	if prog, ok := e.cache.load(name, effMod); ok {
		return prog, nil
	}

	dp := newDirectiveParser(name)
	text, err := dp.rewrite(pre.text)
	if err != nil {
		return nil, err
	}
	protected := pre.protected
	if dp.extends != "" && parentPre == nil {
		return nil, compileErrf(name, "@extends(%q) appeared outside the template head", dp.extends)
	}
	if dp.extends != "" {
		pp := newDirectiveParser(parentName)
		pp.seedSections(dp.sections)
		text, err = pp.rewrite(parentPre.text)
		if err != nil {
			return nil, err
		}
		if pp.extends != "" {
			return nil, compileErrf(name, "layout %q declares @extends itself, only one level of inheritance is supported", parentName)
		}
		for k, v := range parentPre.protected {
			protected[k] = v
		}
	}

	ops, err := compileOps(name, text)
	if err != nil {
		return nil, err
	}
	restoreProtected(ops, protected)

	var props map[string]any
	if pre.propsExpr != "" {
		v, err := e.evaluator.Eval(pre.propsExpr, NewScope(nil))
		if err != nil {
			return nil, &CompileError{Name: name, Message: "invalid @props declaration", Cause: err}
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, compileErrf(name, "@props must declare a map of defaults, got %T", v)
		}
		props = m
	}

	prog := &Program{Source: srcPath, Props: props, Ops: ops}
	e.compiles.Add(1)
	if err := e.cache.store(name, prog, effMod); err != nil {
		return nil, err
	}
	return prog, nil
}

// resolveView maps a logical name (dotted or slashed) to its source path.
func (e *Engine) resolveView(name string) (string, time.Time, error) {
	slashed := strings.ReplaceAll(normalizeName(name), ".", "/")
	full := filepath.Join(e.viewsDir, filepath.FromSlash(slashed)+SourceExt)
	info, err := os.Stat(full)
	if err != nil {
		return "", time.Time{}, &NotFoundError{Name: name, Tried: []string{full}}
	}
	return full, info.ModTime(), nil
}

// normalizeName trims quotes and whitespace, normalizes separators and drops
// the source extension if present.
func normalizeName(n string) string {
	n = strings.TrimSpace(n)
	n = strings.Trim(n, `"' `)
	n = strings.TrimSuffix(n, SourceExt)
	n = filepath.ToSlash(n)
	return n
}
