// SPDX-License-Identifier: MPL-2.0

package project

import (
	"errors"

	"github.com/lunekit/lunekit/pkg/manifest"
)

// Dependency is one locked package as reported by Deps.
type Dependency struct {
	Name        manifest.PackageName
	Version     string
	Source      string
	Fingerprint manifest.Fingerprint
	// Direct is true for packages the manifest declares.
	Direct bool
	// Path is the store directory. Empty when the package is not installed.
	Path string
}

// Deps lists the locked packages in lockfile order. It reads the store but
// never fetches.
func (s *Service) Deps() ([]Dependency, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	lock, err := s.Lock()
	if errors.Is(err, manifest.ErrLockfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st, err := s.Store()
	if err != nil {
		return nil, err
	}
	out := make([]Dependency, 0, len(lock.Packages))
	for _, e := range lock.Packages {
		_, direct := m.Dependencies[e.Name]
		d := Dependency{
			Name:        e.Name,
			Version:     e.Version.String(),
			Source:      e.Source,
			Fingerprint: e.Fingerprint,
			Direct:      direct,
		}
		if p, ok := st.Lookup(e); ok {
			d.Path = p
		}
		out = append(out, d)
	}
	return out, nil
}
