// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/lunekit/lunekit/internal/fsutil"
	"github.com/lunekit/lunekit/pkg/cueutil"
	"github.com/lunekit/lunekit/pkg/semver"
)

const (
	// LockFileName is the lockfile name at the project root.
	LockFileName = "lunekit.lock.cue"

	// LockFormatVersion is the only lockfile format this build reads and writes.
	LockFormatVersion = "1"
)

var (
	//go:embed lockfile_schema.cue
	lockfileSchema string

	// ErrLockfileNotFound is returned by LoadLock when the project has no lockfile.
	ErrLockfileNotFound = errors.New("lockfile not found")
	// ErrInvalidLockfile is returned for lockfiles that parse but are inconsistent.
	ErrInvalidLockfile = errors.New("invalid lockfile")
	// ErrInvalidFingerprint is the sentinel error wrapped by InvalidFingerprintError.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")

	fingerprintRegex = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)
)

type (
	// Fingerprint is the content hash of a package tree, "sha256:<hex>".
	Fingerprint string

	// InvalidFingerprintError is returned when a Fingerprint is malformed.
	InvalidFingerprintError struct {
		Value Fingerprint
	}

	// Lockfile pins every package of a resolution to an exact version and tree.
	// Packages are kept sorted by name.
	Lockfile struct {
		Version        string
		ManifestDigest string
		Packages       []LockEntry
	}

	// LockEntry is one pinned package.
	LockEntry struct {
		Name    PackageName
		Version semver.Version
		// Tag is the git tag the version was read from, e.g. "v1.2.3".
		Tag string
		// Source is the git URL the package is fetched from.
		Source string
		// Path is the subdirectory of Source holding the package, if any.
		Path        string
		Commit      string
		Fingerprint Fingerprint
		// Dependencies names the packages this entry requires.
		Dependencies []PackageName
	}

	lockDocument struct {
		Version        string        `json:"version"`
		ManifestDigest string        `json:"manifest_digest"`
		Packages       []lockPackage `json:"packages"`
	}

	lockPackage struct {
		Name         string   `json:"name"`
		Version      string   `json:"version"`
		Tag          string   `json:"tag"`
		Source       string   `json:"source"`
		Path         string   `json:"path,omitempty"`
		Commit       string   `json:"commit,omitempty"`
		Fingerprint  string   `json:"fingerprint,omitempty"`
		Dependencies []string `json:"dependencies,omitempty"`
	}
)

// Error implements the error interface.
func (e *InvalidFingerprintError) Error() string {
	return fmt.Sprintf("invalid fingerprint %q (want sha256:<64 hex digits>)", e.Value)
}

// Unwrap returns ErrInvalidFingerprint for errors.Is() compatibility.
func (e *InvalidFingerprintError) Unwrap() error { return ErrInvalidFingerprint }

// Validate returns an error if the fingerprint is not of the form sha256:<hex>.
func (f Fingerprint) Validate() error {
	if !fingerprintRegex.MatchString(string(f)) {
		return &InvalidFingerprintError{Value: f}
	}
	return nil
}

// Hex returns the digest without the algorithm prefix.
func (f Fingerprint) Hex() string { return strings.TrimPrefix(string(f), "sha256:") }

// String returns the fingerprint as a string.
func (f Fingerprint) String() string { return string(f) }

// NewLockfile returns an empty lockfile for m.
func NewLockfile(m *Manifest) *Lockfile {
	return &Lockfile{Version: LockFormatVersion, ManifestDigest: m.Digest()}
}

// Key identifies the entry's exact content: "name@version#fingerprint".
func (e LockEntry) Key() string {
	return fmt.Sprintf("%s@%s#%s", e.Name, e.Version, e.Fingerprint.Hex())
}

// Find returns the entry for name.
func (l *Lockfile) Find(name PackageName) (LockEntry, bool) {
	i, ok := slices.BinarySearchFunc(l.Packages, name, func(e LockEntry, n PackageName) int {
		return strings.Compare(string(e.Name), string(n))
	})
	if !ok {
		return LockEntry{}, false
	}
	return l.Packages[i], true
}

// IsCurrent reports whether the lockfile was produced from m's current
// dependency set.
func (l *Lockfile) IsCurrent(m *Manifest) bool {
	return l.ManifestDigest == m.Digest()
}

// Pins returns name -> version for every entry, used to prefer locked
// versions on re-resolution.
func (l *Lockfile) Pins() map[PackageName]semver.Version {
	out := make(map[PackageName]semver.Version, len(l.Packages))
	for _, e := range l.Packages {
		out[e.Name] = e.Version
	}
	return out
}

// Sort orders packages and their dependency lists by name.
func (l *Lockfile) Sort() {
	slices.SortFunc(l.Packages, func(a, b LockEntry) int {
		return strings.Compare(string(a.Name), string(b.Name))
	})
	for i := range l.Packages {
		slices.Sort(l.Packages[i].Dependencies)
	}
}

// Marshal renders the lockfile as CUE. Output depends only on content, so
// identical resolutions produce identical bytes.
func (l *Lockfile) Marshal() []byte {
	sorted := *l
	sorted.Packages = slices.Clone(l.Packages)
	for i := range sorted.Packages {
		sorted.Packages[i].Dependencies = slices.Clone(sorted.Packages[i].Dependencies)
	}
	sorted.Sort()

	var sb strings.Builder
	sb.WriteString("// lunekit.lock.cue: generated by lunekit. Do not edit.\n\n")
	fmt.Fprintf(&sb, "version:         %s\n", cueString(orDefault(sorted.Version, LockFormatVersion)))
	fmt.Fprintf(&sb, "manifest_digest: %s\n\n", cueString(sorted.ManifestDigest))

	if len(sorted.Packages) == 0 {
		sb.WriteString("packages: []\n")
		return []byte(sb.String())
	}

	sb.WriteString("packages: [\n")
	for _, e := range sorted.Packages {
		sb.WriteString("\t{\n")
		fmt.Fprintf(&sb, "\t\tname:    %s\n", cueString(string(e.Name)))
		fmt.Fprintf(&sb, "\t\tversion: %s\n", cueString(e.Version.String()))
		fmt.Fprintf(&sb, "\t\ttag:     %s\n", cueString(e.Tag))
		fmt.Fprintf(&sb, "\t\tsource:  %s\n", cueString(e.Source))
		if e.Path != "" {
			fmt.Fprintf(&sb, "\t\tpath:    %s\n", cueString(e.Path))
		}
		if e.Commit != "" {
			fmt.Fprintf(&sb, "\t\tcommit:  %s\n", cueString(e.Commit))
		}
		if e.Fingerprint != "" {
			fmt.Fprintf(&sb, "\t\tfingerprint: %s\n", cueString(string(e.Fingerprint)))
		}
		if len(e.Dependencies) > 0 {
			deps := make([]string, len(e.Dependencies))
			for i, d := range e.Dependencies {
				deps[i] = cueString(string(d))
			}
			fmt.Fprintf(&sb, "\t\tdependencies: [%s]\n", strings.Join(deps, ", "))
		}
		sb.WriteString("\t},\n")
	}
	sb.WriteString("]\n")
	return []byte(sb.String())
}

// ParseLock decodes and validates lockfile bytes. filename is used in errors.
func ParseLock(data []byte, filename string) (*Lockfile, error) {
	res, err := cueutil.ParseAndDecode[lockDocument]([]byte(lockfileSchema), data, "#Lockfile", cueutil.WithFilename(filename))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLockfile, err)
	}
	doc := res.Value

	lock := &Lockfile{
		Version:        doc.Version,
		ManifestDigest: doc.ManifestDigest,
		Packages:       make([]LockEntry, 0, len(doc.Packages)),
	}
	seen := make(map[PackageName]bool, len(doc.Packages))
	for i, p := range doc.Packages {
		entry, err := p.entry()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: packages[%d]: %w", ErrInvalidLockfile, filename, i, err)
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("%w: %s: package %q is listed twice", ErrInvalidLockfile, filename, entry.Name)
		}
		seen[entry.Name] = true
		lock.Packages = append(lock.Packages, entry)
	}
	lock.Sort()
	return lock, nil
}

func (p lockPackage) entry() (LockEntry, error) {
	v, err := semver.Parse(p.Version)
	if err != nil {
		return LockEntry{}, err
	}
	e := LockEntry{
		Name:        PackageName(p.Name),
		Version:     v,
		Tag:         p.Tag,
		Source:      p.Source,
		Path:        p.Path,
		Commit:      p.Commit,
		Fingerprint: Fingerprint(p.Fingerprint),
	}
	if e.Path != "" && !isSafeSubpath(e.Path) {
		return LockEntry{}, fmt.Errorf("path %q escapes the repository", e.Path)
	}
	for _, d := range p.Dependencies {
		name := PackageName(d)
		if err := name.Validate(); err != nil {
			return LockEntry{}, err
		}
		e.Dependencies = append(e.Dependencies, name)
	}
	return e, nil
}

// LoadLock reads the lockfile from dir.
func LoadLock(dir string) (*Lockfile, error) {
	p := filepath.Join(dir, LockFileName)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, ErrLockfileNotFound)
		}
		return nil, fmt.Errorf("read lockfile: %w", err)
	}
	return ParseLock(data, p)
}

// SaveLock writes the lockfile into dir atomically.
func SaveLock(dir string, l *Lockfile) error {
	return fsutil.WriteFileAtomic(filepath.Join(dir, LockFileName), l.Marshal(), 0o644)
}

// cueString quotes s as a CUE string literal. JSON string syntax is valid CUE.
func cueString(s string) string {
	b, _ := json.Marshal(s) // a string always marshals
	return string(b)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
