// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"io"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/semver"
)

type (
	// Client is the registry as seen by the resolver and the installer.
	Client interface {
		// Describe returns the catalog entry for name.
		Describe(ctx context.Context, name manifest.PackageName) (*Descriptor, error)
		// ListVersions returns the released versions of name, newest first.
		ListVersions(ctx context.Context, name manifest.PackageName) ([]semver.Version, error)
		// FetchSource streams the package tree at version as an uncompressed
		// tar archive. The caller must close the reader.
		FetchSource(ctx context.Context, name manifest.PackageName, version semver.Version) (io.ReadCloser, error)
	}

	// CommitResolver is implemented by clients that can name the commit a
	// version points to. The commit is recorded in the lockfile when known.
	CommitResolver interface {
		Commit(ctx context.Context, name manifest.PackageName, version semver.Version) (string, error)
	}
)

// CommitOf returns the commit for version when c can provide it, or "".
func CommitOf(ctx context.Context, c Client, name manifest.PackageName, version semver.Version) string {
	cr, ok := c.(CommitResolver)
	if !ok {
		return ""
	}
	commit, err := cr.Commit(ctx, name, version)
	if err != nil {
		return ""
	}
	return commit
}
