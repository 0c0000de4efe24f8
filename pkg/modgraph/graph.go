// SPDX-License-Identifier: MPL-2.0

package modgraph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lunekit/lunekit/internal/dag"
	"github.com/lunekit/lunekit/pkg/manifest"
)

type (
	// Module is one discovered source file.
	Module struct {
		ID       string
		Path     string
		Package  manifest.PackageName
		Source   []byte
		Requires []Require
		// Lexical is set when requires came from the lexical fallback.
		Lexical bool
	}

	// Graph is the set of modules reachable from Entry.
	Graph struct {
		Entry       string
		Modules     map[string]*Module
		Order       []string
		Diagnostics []Diagnostic
	}

	// Options configures Build.
	Options struct {
		Cycles     CyclePolicy
		Unresolved UnresolvedPolicy
		Cache      *Cache
		Logger     *slog.Logger
	}

	builder struct {
		resolver *Resolver
		opts     Options
		logger   *slog.Logger
		graph    *Graph
	}
)

// Build walks every module reachable from entryPath.
func Build(ctx context.Context, entryPath string, r *Resolver, opts Options) (*Graph, error) {
	if err := opts.Cycles.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Unresolved.Validate(); err != nil {
		return nil, err
	}
	if opts.Cycles == "" {
		opts.Cycles = CyclesWarn
	}
	if opts.Unresolved == "" {
		opts.Unresolved = UnresolvedWarn
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(entryPath)
	if err != nil {
		return nil, err
	}
	if !isFile(abs) {
		return nil, &GraphError{Path: entryPath, Err: fmt.Errorf("%w: entry %s does not exist", ErrUnresolvedRequire, entryPath)}
	}
	id, pkg, err := r.moduleID(abs)
	if err != nil {
		return nil, &GraphError{Path: entryPath, Err: err}
	}

	b := &builder{
		resolver: r,
		opts:     opts,
		logger:   logger,
		graph:    &Graph{Entry: id, Modules: map[string]*Module{}},
	}
	if err := b.visit(ctx, id, abs, pkg); err != nil {
		return nil, err
	}
	if err := b.checkCycles(); err != nil {
		return nil, err
	}
	return b.graph, nil
}

func (b *builder) visit(ctx context.Context, id, path string, pkg manifest.PackageName) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return &GraphError{Module: id, Path: path, Err: err}
	}
	res, err := b.extract(ctx, src)
	if err != nil {
		return &GraphError{Module: id, Path: path, Err: err}
	}
	if res.Lexical {
		b.logger.Debug("source is not plain Lua, used lexical require scan", "module", id)
	}

	mod := &Module{ID: id, Path: path, Package: pkg, Source: src, Requires: res.Requires, Lexical: res.Lexical}
	b.graph.Modules[id] = mod
	b.graph.Order = append(b.graph.Order, id)

	for i := range mod.Requires {
		req := &mod.Requires[i]
		if req.Dynamic {
			if err := b.unresolved(mod, req, "dynamic require cannot be bundled"); err != nil {
				return err
			}
			continue
		}
		target, err := b.resolver.resolve(path, req.Spec)
		if err != nil {
			if err := b.unresolved(mod, req, err.Error()); err != nil {
				return err
			}
			continue
		}
		if target.builtin {
			req.Builtin = true
			continue
		}
		tid, tpkg, err := b.resolver.moduleID(target.path)
		if err != nil {
			return &GraphError{Module: id, Path: path, Line: req.Line, Spec: req.Spec, Err: err}
		}
		req.Target = tid
		if _, seen := b.graph.Modules[tid]; seen {
			continue
		}
		if err := b.visit(ctx, tid, target.path, tpkg); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) extract(ctx context.Context, src []byte) (ExtractResult, error) {
	if res, ok := b.opts.Cache.Get(src); ok {
		return res, nil
	}
	res, err := Extract(ctx, src)
	if err != nil {
		return ExtractResult{}, err
	}
	if err := b.opts.Cache.Put(src, res); err != nil {
		b.logger.Debug("require cache write failed", "error", err)
	}
	return res, nil
}

func (b *builder) unresolved(mod *Module, req *Require, msg string) error {
	if b.opts.Unresolved == UnresolvedError {
		return &GraphError{
			Module: mod.ID,
			Path:   mod.Path,
			Line:   req.Line,
			Spec:   req.Spec,
			Err:    fmt.Errorf("%w: %s", ErrUnresolvedRequire, msg),
		}
	}
	d := Diagnostic{Severity: SeverityWarning, Module: mod.ID, Line: req.Line, Spec: req.Spec, Message: msg}
	if req.Spec != "" {
		d.Message = fmt.Sprintf("require(%q): %s", req.Spec, msg)
	}
	b.graph.Diagnostics = append(b.graph.Diagnostics, d)
	b.logger.Warn("unresolved require", "module", mod.ID, "line", req.Line, "spec", req.Spec, "reason", msg)
	return nil
}

// checkCycles reports cycles formed by eager edges only.
func (b *builder) checkCycles() error {
	if b.opts.Cycles == CyclesAllow {
		return nil
	}
	g := dag.New()
	for _, id := range b.graph.Order {
		g.AddNode(id)
	}
	for _, id := range b.graph.Order {
		for _, req := range b.graph.Modules[id].Requires {
			if req.Target != "" && !req.Lazy {
				g.AddEdge(id, req.Target)
			}
		}
	}
	for _, cycle := range g.Cycles() {
		if b.opts.Cycles == CyclesError {
			return &GraphError{Module: cycle[0], Cycle: cycle, Err: ErrCycle}
		}
		d := Diagnostic{Severity: SeverityWarning, Module: cycle[0], Message: (&GraphError{Cycle: cycle, Err: ErrCycle}).Error()}
		b.graph.Diagnostics = append(b.graph.Diagnostics, d)
		b.logger.Warn("require cycle", "cycle", cycle)
	}
	return nil
}

// Module returns the module with the given ID.
func (g *Graph) Module(id string) (*Module, bool) {
	m, ok := g.Modules[id]
	return m, ok
}
