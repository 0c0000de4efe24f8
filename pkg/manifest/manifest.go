// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lunekit/lunekit/internal/fsutil"
	"github.com/lunekit/lunekit/pkg/semver"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the manifest file name at the project root.
const FileName = "lunekit.toml"

var (
	// ErrManifestNotFound is returned when a project has no manifest.
	ErrManifestNotFound = errors.New("manifest not found")
	// ErrInvalidManifest is the sentinel error wrapped by ManifestError.
	ErrInvalidManifest = errors.New("invalid manifest")
)

type (
	// Manifest is the user-authored project description: identity plus the
	// declared dependencies and their version constraints.
	Manifest struct {
		Name        string
		Description string
		// Registry overrides the configured registry catalog location.
		Registry     string
		Dependencies map[PackageName]Dependency
		// Aliases are extra require aliases written to .luaurc ("@name" -> path).
		Aliases map[string]string
	}

	// Dependency declares one required package.
	Dependency struct {
		// Version is the constraint string, e.g. "^1.2.0".
		Version string
		// Source bypasses the registry catalog: "github:owner/repo" or a git URL.
		Source string
		// Path selects a subdirectory of the source repository.
		Path string
	}

	// ManifestError reports a manifest that cannot be parsed or fails validation.
	ManifestError struct {
		File   string
		Field  string
		Reason string
		Err    error
	}

	// document is the TOML wire shape. Dependencies are either a bare
	// constraint string or an inline table.
	document struct {
		Name         string            `toml:"name"`
		Description  string            `toml:"description,omitempty"`
		Registry     string            `toml:"registry,omitempty"`
		Dependencies map[string]any    `toml:"dependencies"`
		Aliases      map[string]string `toml:"aliases,omitempty"`
	}

	dependencyTable struct {
		Version string `toml:"version"`
		Source  string `toml:"source,omitempty"`
		Path    string `toml:"path,omitempty"`
	}
)

// Error implements the error interface.
func (e *ManifestError) Error() string {
	var b strings.Builder
	b.WriteString(e.File)
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns ErrInvalidManifest and the underlying cause.
func (e *ManifestError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidManifest, e.Err}
	}
	return []error{ErrInvalidManifest}
}

// New returns an empty manifest for a project called name.
func New(name, description string) *Manifest {
	return &Manifest{
		Name:         name,
		Description:  description,
		Dependencies: map[PackageName]Dependency{},
	}
}

// Constraint parses the dependency's version constraint. An empty version
// means any release.
func (d Dependency) Constraint() (semver.Constraint, error) {
	if strings.TrimSpace(d.Version) == "" {
		return semver.Any(), nil
	}
	return semver.ParseConstraint(d.Version)
}

// Parse decodes and validates manifest bytes. filename is used in errors.
func Parse(data []byte, filename string) (*Manifest, error) {
	var doc document
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, &ManifestError{File: filename, Reason: fmt.Sprintf("line %d, column %d", row, col), Err: err}
		}
		return nil, &ManifestError{File: filename, Err: err}
	}

	m := &Manifest{
		Name:         doc.Name,
		Description:  doc.Description,
		Registry:     doc.Registry,
		Dependencies: make(map[PackageName]Dependency, len(doc.Dependencies)),
		Aliases:      doc.Aliases,
	}
	for name, raw := range doc.Dependencies {
		dep, err := decodeDependency(raw)
		if err != nil {
			return nil, &ManifestError{File: filename, Field: "dependencies." + name, Err: err}
		}
		m.Dependencies[PackageName(name)] = dep
	}

	if err := m.validate(filename); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeDependency(raw any) (Dependency, error) {
	switch v := raw.(type) {
	case string:
		return Dependency{Version: v}, nil
	case map[string]any:
		var dep Dependency
		for key, val := range v {
			s, ok := val.(string)
			if !ok {
				return Dependency{}, fmt.Errorf("field %q must be a string", key)
			}
			switch key {
			case "version":
				dep.Version = s
			case "source":
				dep.Source = s
			case "path":
				dep.Path = s
			default:
				return Dependency{}, fmt.Errorf("unknown field %q", key)
			}
		}
		return dep, nil
	default:
		return Dependency{}, fmt.Errorf("expected a constraint string or a table, got %T", raw)
	}
}

// Validate checks names, constraints, sources and aliases.
func (m *Manifest) Validate() error {
	return m.validate(FileName)
}

func (m *Manifest) validate(filename string) error {
	for _, name := range m.DependencyNames() {
		dep := m.Dependencies[name]
		field := "dependencies." + string(name)
		if err := name.Validate(); err != nil {
			return &ManifestError{File: filename, Field: field, Err: err}
		}
		if _, err := dep.Constraint(); err != nil {
			return &ManifestError{File: filename, Field: field, Err: err}
		}
		if dep.Path != "" && !isSafeSubpath(dep.Path) {
			return &ManifestError{File: filename, Field: field + ".path", Reason: "must be a relative path inside the repository"}
		}
		if dep.Source != "" && strings.TrimSpace(dep.Source) == "" {
			return &ManifestError{File: filename, Field: field + ".source", Reason: "must not be blank"}
		}
	}
	for _, alias := range slices.Sorted(maps.Keys(m.Aliases)) {
		if err := PackageName(strings.TrimPrefix(alias, "@")).Validate(); err != nil {
			return &ManifestError{File: filename, Field: "aliases." + alias, Err: err}
		}
		if strings.TrimSpace(m.Aliases[alias]) == "" {
			return &ManifestError{File: filename, Field: "aliases." + alias, Reason: "target must not be empty"}
		}
	}
	return nil
}

// isSafeSubpath reports whether p stays inside the directory it is joined to.
func isSafeSubpath(p string) bool {
	if strings.ContainsRune(p, 0) || path.IsAbs(p) || filepath.IsAbs(p) {
		return false
	}
	clean := path.Clean(filepath.ToSlash(p))
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

// Marshal encodes the manifest as TOML. Map keys are emitted in sorted order.
func (m *Manifest) Marshal() ([]byte, error) {
	doc := document{
		Name:         m.Name,
		Description:  m.Description,
		Registry:     m.Registry,
		Dependencies: make(map[string]any, len(m.Dependencies)),
		Aliases:      m.Aliases,
	}
	for name, dep := range m.Dependencies {
		if dep.Source == "" && dep.Path == "" {
			doc.Dependencies[string(name)] = dep.Version
			continue
		}
		doc.Dependencies[string(name)] = dependencyTable(dep)
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// DependencyNames returns the declared package names in sorted order.
func (m *Manifest) DependencyNames() []PackageName {
	return slices.Sorted(maps.Keys(m.Dependencies))
}

// Clone returns a deep copy, so callers can stage edits and discard them on failure.
func (m *Manifest) Clone() *Manifest {
	out := *m
	out.Dependencies = maps.Clone(m.Dependencies)
	if out.Dependencies == nil {
		out.Dependencies = map[PackageName]Dependency{}
	}
	out.Aliases = maps.Clone(m.Aliases)
	return &out
}

// Digest returns a stable hash of everything in the manifest that affects
// resolution. The lockfile records it to detect stale locks.
func (m *Manifest) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "registry\x00%s\n", m.Registry)
	for _, name := range m.DependencyNames() {
		dep := m.Dependencies[name]
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\n", name, strings.TrimSpace(dep.Version), dep.Source, dep.Path)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Load reads the manifest from dir.
func Load(dir string) (*Manifest, error) {
	p := filepath.Join(dir, FileName)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, ErrManifestNotFound)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, p)
}

// Save writes the manifest into dir atomically.
func Save(dir string, m *Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, FileName), data, 0o644)
}
