// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/semver"
)

const peeledSuffix = "^{}"

type (
	// GitClient implements Client against git repositories located through a
	// Catalog. Listings and descriptors are memoized for the lifetime of the
	// value; create one per command invocation.
	GitClient struct {
		catalog Catalog
		auth    AuthProvider
		logger  *slog.Logger

		mu          sync.Mutex
		descriptors map[manifest.PackageName]*Descriptor
		tags        map[manifest.PackageName]map[string]tagRef
	}

	// GitClientOption configures a GitClient.
	GitClientOption func(*GitClient)

	tagRef struct {
		name   string
		commit string
	}
)

// WithAuth overrides EnvAuth.
func WithAuth(auth AuthProvider) GitClientOption {
	return func(c *GitClient) { c.auth = auth }
}

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) GitClientOption {
	return func(c *GitClient) { c.logger = l }
}

// NewGitClient returns a client that resolves names through catalog.
func NewGitClient(catalog Catalog, opts ...GitClientOption) *GitClient {
	c := &GitClient{
		catalog:     catalog,
		auth:        EnvAuth,
		logger:      slog.Default(),
		descriptors: map[manifest.PackageName]*Descriptor{},
		tags:        map[manifest.PackageName]map[string]tagRef{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe implements Client.
func (c *GitClient) Describe(ctx context.Context, name manifest.PackageName) (*Descriptor, error) {
	c.mu.Lock()
	d, ok := c.descriptors[name]
	c.mu.Unlock()
	if ok {
		return d, nil
	}

	d, err := c.catalog.Lookup(ctx, name)
	if err != nil {
		return nil, &Error{Op: "describe", Package: name, Err: err}
	}

	c.mu.Lock()
	c.descriptors[name] = d
	c.mu.Unlock()
	return d, nil
}

// ListVersions implements Client. Tags that are not full semantic versions
// are ignored; "v1.2.3" and "1.2.3" are both accepted.
func (c *GitClient) ListVersions(ctx context.Context, name manifest.PackageName) ([]semver.Version, error) {
	d, err := c.Describe(ctx, name)
	if err != nil {
		return nil, err
	}

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{d.Repository.String()},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{
		Auth:          c.auth(d.Repository),
		PeelingOption: git.AppendPeeled,
	})
	if err != nil && !errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return nil, &Error{Op: "list versions", Package: name, Err: classifyGitError(ctx, err)}
	}

	byVersion := map[string]tagRef{}
	peeled := map[string]string{}
	var versions []semver.Version
	for _, ref := range refs {
		if !ref.Name().IsTag() {
			continue
		}
		short := ref.Name().Short()
		if base, ok := strings.CutSuffix(short, peeledSuffix); ok {
			peeled[base] = ref.Hash().String()
			continue
		}
		v, err := semver.Parse(short)
		if err != nil {
			continue
		}
		key := v.String()
		if prev, dup := byVersion[key]; dup {
			// "v1.0.0" and "1.0.0" both exist; keep the v-prefixed tag.
			if strings.HasPrefix(prev.name, "v") {
				continue
			}
		} else {
			versions = append(versions, v)
		}
		byVersion[key] = tagRef{name: short, commit: ref.Hash().String()}
	}
	for key, ref := range byVersion {
		if commit, ok := peeled[ref.name]; ok {
			ref.commit = commit
			byVersion[key] = ref
		}
	}
	for i, v := range versions {
		versions[i].Original = byVersion[v.String()].name
	}
	semver.SortDescending(versions)

	c.mu.Lock()
	c.tags[name] = byVersion
	c.mu.Unlock()

	c.logger.Debug("listed versions", "package", name, "repository", d.Repository, "count", len(versions))
	return versions, nil
}

// Commit implements CommitResolver from the memoized listing.
func (c *GitClient) Commit(ctx context.Context, name manifest.PackageName, version semver.Version) (string, error) {
	ref, err := c.tag(ctx, name, version)
	if err != nil {
		return "", err
	}
	return ref.commit, nil
}

// FetchSource implements Client. The tag is shallow-cloned into memory and
// the tree (or the descriptor's subdirectory) is streamed as a tar archive
// with entries in path order.
func (c *GitClient) FetchSource(ctx context.Context, name manifest.PackageName, version semver.Version) (io.ReadCloser, error) {
	d, err := c.Describe(ctx, name)
	if err != nil {
		return nil, err
	}
	ref, err := c.tag(ctx, name, version)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (io.ReadCloser, error) {
		return nil, &Error{Op: "fetch", Package: name, Version: version.String(), Err: err}
	}

	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:           d.Repository.String(),
		Auth:          c.auth(d.Repository),
		ReferenceName: plumbing.NewTagReferenceName(ref.name),
		SingleBranch:  true,
		Depth:         1,
		Tags:          git.NoTags,
	})
	if err != nil {
		return fail(classifyGitError(ctx, err))
	}

	tree, err := treeAt(repo, d.Path)
	if err != nil {
		return fail(err)
	}

	c.logger.Debug("fetched source", "package", name, "version", version, "tag", ref.name)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTreeTar(pw, tree))
	}()
	return pr, nil
}

// tag returns the tag for version, listing the repository on first use.
func (c *GitClient) tag(ctx context.Context, name manifest.PackageName, version semver.Version) (tagRef, error) {
	c.mu.Lock()
	tags, listed := c.tags[name]
	c.mu.Unlock()
	if !listed {
		if _, err := c.ListVersions(ctx, name); err != nil {
			return tagRef{}, err
		}
		c.mu.Lock()
		tags = c.tags[name]
		c.mu.Unlock()
	}
	ref, ok := tags[version.String()]
	if !ok {
		return tagRef{}, &Error{Op: "fetch", Package: name, Version: version.String(), Err: ErrVersionGone}
	}
	return ref, nil
}

// treeAt returns the tree of HEAD, or its subdirectory sub.
func treeAt(repo *git.Repository, sub string) (*object.Tree, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	var commit *object.Commit
	if tagObj, tagErr := repo.TagObject(head.Hash()); tagErr == nil {
		commit, err = tagObj.Commit()
	} else {
		commit, err = repo.CommitObject(head.Hash())
	}
	if err != nil {
		return nil, fmt.Errorf("resolve commit %s: %w", head.Hash(), err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}
	sub = strings.Trim(path.Clean("/"+sub), "/")
	if sub == "" {
		return tree, nil
	}
	subtree, err := tree.Tree(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: path %q not found at tag: %w", ErrNotFound, sub, err)
	}
	return subtree, nil
}

// classifyGitError maps go-git failures onto the registry sentinels.
func classifyGitError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, git.NoMatchingRefSpecError{}),
		errors.Is(err, plumbing.ErrReferenceNotFound),
		strings.Contains(err.Error(), "couldn't find remote ref"):
		return fmt.Errorf("%w: %w", ErrVersionGone, err)
	default:
		return unreachable(err)
	}
}
