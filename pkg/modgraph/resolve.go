// SPDX-License-Identifier: MPL-2.0

package modgraph

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lunekit/lunekit/pkg/manifest"
)

// DefaultBuiltinPrefixes are the require prefixes provided by the runtime.
var DefaultBuiltinPrefixes = []string{"@lune"}

var (
	moduleExts = []string{".luau", ".lua"}

	// packageEntries is the lookup order for a bare package reference.
	packageEntries = []string{
		"init.luau", "init.lua",
		"main.luau", "main.lua",
		"lib/init.luau", "lib/init.lua",
		"src/init.luau", "src/init.lua",
	}

	errNotFound = errors.New("module not found")
)

// Resolver maps require specs to files.
type Resolver struct {
	// Root is the project directory.
	Root string
	// Packages maps each locked package to its installed directory.
	Packages map[manifest.PackageName]string
	// Aliases maps an alias (without '@') to a directory or module path.
	// Relative paths are taken from Root.
	Aliases map[string]string
	// BuiltinPrefixes are skipped during resolution. Nil means
	// DefaultBuiltinPrefixes.
	BuiltinPrefixes []string
}

// resolution is the outcome of resolving one spec.
type resolution struct {
	path    string
	builtin bool
}

// resolve maps spec, required from the file at fromPath, to a file.
func (r *Resolver) resolve(fromPath, spec string) (resolution, error) {
	if spec == "" {
		return resolution{}, errNotFound
	}
	base := filepath.Dir(fromPath)

	switch {
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"):
		return r.file(filepath.Join(relativeBase(fromPath), filepath.FromSlash(spec)))
	case spec == "@self":
		return r.file(base)
	case strings.HasPrefix(spec, "@self/"):
		return r.file(filepath.Join(base, filepath.FromSlash(strings.TrimPrefix(spec, "@self/"))))
	case strings.HasPrefix(spec, "@"):
		head, sub, _ := strings.Cut(spec[1:], "/")
		if r.isBuiltin("@" + head) {
			return resolution{builtin: true}, nil
		}
		if dir, ok := r.Packages[manifest.PackageName(head)]; ok {
			return r.inPackage(dir, sub)
		}
		if target, ok := r.Aliases[head]; ok {
			return r.inAlias(target, sub)
		}
		return resolution{}, fmt.Errorf("%w: no package or alias named %q", errNotFound, head)
	}

	head, sub, _ := strings.Cut(spec, "/")
	if dir, ok := r.Packages[manifest.PackageName(head)]; ok {
		return r.inPackage(dir, sub)
	}
	return r.file(filepath.Join(base, filepath.FromSlash(spec)))
}

// relativeBase is the directory "./" and "../" are taken from. An init
// module stands for its directory, so its relative requires start one level
// up; @self reaches into the directory itself.
func relativeBase(fromPath string) string {
	dir := filepath.Dir(fromPath)
	switch filepath.Base(fromPath) {
	case "init.luau", "init.lua":
		return filepath.Dir(dir)
	}
	return dir
}

func (r *Resolver) isBuiltin(head string) bool {
	prefixes := r.BuiltinPrefixes
	if prefixes == nil {
		prefixes = DefaultBuiltinPrefixes
	}
	return slices.Contains(prefixes, head)
}

func (r *Resolver) inPackage(dir, sub string) (resolution, error) {
	if sub == "" {
		for _, name := range packageEntries {
			p := filepath.Join(dir, filepath.FromSlash(name))
			if isFile(p) {
				return resolution{path: p}, nil
			}
		}
		return resolution{}, fmt.Errorf("%w: package at %s has no entry module", errNotFound, dir)
	}
	return r.file(filepath.Join(dir, filepath.FromSlash(sub)))
}

func (r *Resolver) inAlias(target, sub string) (resolution, error) {
	if !filepath.IsAbs(target) {
		target = filepath.Join(r.Root, filepath.FromSlash(target))
	}
	if sub != "" {
		target = filepath.Join(target, filepath.FromSlash(sub))
	}
	return r.file(target)
}

// file applies the candidate rules to p: the exact file when p has a module
// extension, then p.luau, p.lua, p/init.luau and p/init.lua.
func (r *Resolver) file(p string) (resolution, error) {
	if slices.Contains(moduleExts, filepath.Ext(p)) && isFile(p) {
		return resolution{path: p}, nil
	}
	var tried []string
	for _, ext := range moduleExts {
		tried = append(tried, p+ext)
	}
	for _, ext := range moduleExts {
		tried = append(tried, filepath.Join(p, "init"+ext))
	}
	for _, c := range tried {
		if isFile(c) {
			return resolution{path: c}, nil
		}
	}
	return resolution{}, fmt.Errorf("%w: tried %s", errNotFound, strings.Join(tried, ", "))
}

// moduleID returns the graph ID of the file at p: "@pkg/rel" inside a
// package, a project-relative slash path inside Root.
func (r *Resolver) moduleID(p string) (string, manifest.PackageName, error) {
	var (
		bestName manifest.PackageName
		bestDir  string
	)
	for _, name := range slices.Sorted(maps.Keys(r.Packages)) {
		dir := r.Packages[name]
		if within(dir, p) && len(dir) > len(bestDir) {
			bestName, bestDir = name, dir
		}
	}
	if bestDir != "" {
		rel, _ := filepath.Rel(bestDir, p)
		return "@" + string(bestName) + "/" + filepath.ToSlash(rel), bestName, nil
	}
	if within(r.Root, p) {
		rel, _ := filepath.Rel(r.Root, p)
		return filepath.ToSlash(rel), "", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrOutsideProject, p)
}

func within(dir, p string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
