// SPDX-License-Identifier: MPL-2.0

// Package registrytest provides an in-memory registry.Client for tests.
package registrytest

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/registry"
	"github.com/lunekit/lunekit/pkg/semver"
)

type (
	// Files maps slash paths to file contents.
	Files map[string]string

	// Fake is a registry.Client backed by maps. Packages are added with Add
	// and the call counters can be inspected afterwards. It is safe for
	// concurrent use.
	Fake struct {
		mu       sync.Mutex
		packages map[manifest.PackageName]map[string]Files

		// FetchHook, when set, runs before every FetchSource and may return
		// an error to fail the call.
		FetchHook func(name manifest.PackageName, version semver.Version) error
		// ListDelay delays every ListVersions call.
		ListDelay time.Duration

		Lists   atomic.Int64
		Fetches atomic.Int64
	}
)

// New returns an empty fake registry.
func New() *Fake {
	return &Fake{packages: map[manifest.PackageName]map[string]Files{}}
}

// Add publishes version of name with the given files.
func (f *Fake) Add(name manifest.PackageName, version string, files Files) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.packages[name] == nil {
		f.packages[name] = map[string]Files{}
	}
	f.packages[name][semver.MustParse(version).String()] = files
	return f
}

// AddWithDeps publishes version of name whose manifest depends on deps
// (name -> constraint).
func (f *Fake) AddWithDeps(name manifest.PackageName, version string, deps map[string]string) *Fake {
	m := manifest.New(string(name), "")
	for dep, c := range deps {
		m.Dependencies[manifest.PackageName(dep)] = manifest.Dependency{Version: c}
	}
	data, err := m.Marshal()
	if err != nil {
		panic(err)
	}
	return f.Add(name, version, Files{
		manifest.FileName: string(data),
		"init.luau":       fmt.Sprintf("return { name = %q, version = %q }\n", name, version),
	})
}

// Remove unpublishes a version, simulating a deleted tag.
func (f *Fake) Remove(name manifest.PackageName, version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.packages[name], semver.MustParse(version).String())
}

// Describe implements registry.Client.
func (f *Fake) Describe(_ context.Context, name manifest.PackageName) (*registry.Descriptor, error) {
	f.mu.Lock()
	_, ok := f.packages[name]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, name)
	}
	return &registry.Descriptor{Name: name, Repository: registry.GitURL("https://example.invalid/" + string(name) + ".git")}, nil
}

// ListVersions implements registry.Client.
func (f *Fake) ListVersions(ctx context.Context, name manifest.PackageName) ([]semver.Version, error) {
	f.Lists.Add(1)
	if f.ListDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.ListDelay):
		}
	}
	f.mu.Lock()
	versions, ok := f.packages[name]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, name)
	}
	out := make([]semver.Version, 0, len(versions))
	for _, v := range slices.Sorted(maps.Keys(versions)) {
		out = append(out, semver.MustParse(v))
	}
	semver.SortDescending(out)
	return out, nil
}

// FetchSource implements registry.Client.
func (f *Fake) FetchSource(ctx context.Context, name manifest.PackageName, version semver.Version) (io.ReadCloser, error) {
	f.Fetches.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.FetchHook != nil {
		if err := f.FetchHook(name, version); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	files, ok := f.packages[name][version.String()]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", registry.ErrVersionGone, name, version)
	}
	data, err := Tar(files)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Tar renders files as an uncompressed tar archive in path order.
func Tar(files Files) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, p := range slices.Sorted(maps.Keys(files)) {
		body := files[p]
		if err := tw.WriteHeader(&tar.Header{
			Name:     p,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(body)),
		}); err != nil {
			return nil, err
		}
		if _, err := io.WriteString(tw, body); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
