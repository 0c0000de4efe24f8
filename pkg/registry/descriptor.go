// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/lunekit/lunekit/pkg/manifest"
)

// maxDescriptorBytes bounds a single descriptor document.
const maxDescriptorBytes = 1 << 20

// descriptorExtensions lists the file names tried for a package, in order.
var descriptorExtensions = []string{".json", ".yaml", ".yml"}

type (
	// Descriptor is a catalog entry: the repository holding a package.
	Descriptor struct {
		Name        manifest.PackageName
		Description string
		Repository  GitURL
		// Path is the package subdirectory within Repository.
		Path string
	}

	descriptorDocument struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Repository  string `yaml:"repository"`
		Path        string `yaml:"path"`
	}
)

// Source renders the descriptor as a lockfile source string.
func (d *Descriptor) Source() string { return d.Repository.String() }

// parseDescriptor decodes a JSON or YAML descriptor for name.
func parseDescriptor(name manifest.PackageName, r io.Reader, origin string) (*Descriptor, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDescriptorBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", origin, err)
	}
	if len(data) > maxDescriptorBytes {
		return nil, fmt.Errorf("descriptor %s exceeds %d bytes", origin, maxDescriptorBytes)
	}

	var doc descriptorDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode descriptor %s: %w", origin, err)
	}

	if doc.Name != "" && manifest.PackageName(doc.Name) != name {
		return nil, fmt.Errorf("descriptor %s: name %q does not match %q", origin, doc.Name, name)
	}
	repo, err := ExpandSource(doc.Repository)
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: repository: %w", origin, err)
	}
	return &Descriptor{
		Name:        name,
		Description: doc.Description,
		Repository:  repo,
		Path:        doc.Path,
	}, nil
}
