// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"path"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/semver"
)

// Snapshot is what the resolver needs to know about one package version.
type Snapshot struct {
	Name        manifest.PackageName
	Version     semver.Version
	Fingerprint manifest.Fingerprint
	Commit      string
	// Manifest is the package's own lunekit.toml, or nil when it has none.
	Manifest *manifest.Manifest
}

// Inspect fetches version once and returns its fingerprint and manifest.
func Inspect(ctx context.Context, c Client, name manifest.PackageName, version semver.Version) (*Snapshot, error) {
	rc, err := c.FetchSource(ctx, name, version)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var (
		h            TreeHasher
		manifestData []byte
	)
	err = walkTar(rc, func(hdr *tar.Header, body io.Reader) error {
		if path.Clean(hdr.Name) != manifest.FileName {
			_, err := h.Add(hdr.Name, hdr.FileInfo().Mode(), body)
			return err
		}
		var buf bytes.Buffer
		if _, err := h.Add(hdr.Name, hdr.FileInfo().Mode(), io.TeeReader(body, &buf)); err != nil {
			return err
		}
		manifestData = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "inspect", Package: name, Version: version.String(), Err: err}
	}

	snap := &Snapshot{
		Name:        name,
		Version:     version,
		Fingerprint: h.Sum(),
		Commit:      CommitOf(ctx, c, name, version),
	}
	if manifestData != nil {
		m, err := manifest.Parse(manifestData, string(name)+"@"+version.String()+"/"+manifest.FileName)
		if err != nil {
			return nil, &Error{Op: "inspect", Package: name, Version: version.String(), Err: err}
		}
		snap.Manifest = m
	}
	return snap, nil
}
