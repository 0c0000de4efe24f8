// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lunekit/lunekit/pkg/manifest"
)

const (
	// DefaultRequestsPerSecond is the HTTP catalog request rate.
	DefaultRequestsPerSecond = 10
	defaultBurst             = 5
	defaultUserAgent         = "lunekit"
)

type (
	// Catalog maps package names to descriptors.
	Catalog interface {
		Lookup(ctx context.Context, name manifest.PackageName) (*Descriptor, error)
	}

	// DirCatalog reads descriptors from a local directory.
	DirCatalog struct {
		Root string
	}

	// HTTPCatalog fetches descriptors from "<BaseURL>/<name>.<ext>".
	HTTPCatalog struct {
		baseURL    string
		httpClient *http.Client
		limiter    *rate.Limiter
		userAgent  string
	}

	// HTTPCatalogOption configures an HTTPCatalog.
	HTTPCatalogOption func(*HTTPCatalog)

	// Overlay answers from its entries first and falls back to Base. Entries
	// come from manifest dependencies that name their own source.
	Overlay struct {
		Base    Catalog
		mu      sync.RWMutex
		entries map[manifest.PackageName]*Descriptor
	}
)

// OpenCatalog returns the catalog at location: an http(s) URL, a file:// URL
// or a directory path.
func OpenCatalog(location string, opts ...HTTPCatalogOption) (Catalog, error) {
	loc := strings.TrimSpace(location)
	switch {
	case loc == "":
		return nil, errors.New("no registry configured")
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		return NewHTTPCatalog(loc, opts...), nil
	case strings.HasPrefix(loc, "file://"):
		u, err := url.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("registry %q: %w", loc, err)
		}
		return &DirCatalog{Root: filepath.FromSlash(u.Path)}, nil
	default:
		return &DirCatalog{Root: loc}, nil
	}
}

// Lookup implements Catalog.
func (c *DirCatalog) Lookup(ctx context.Context, name manifest.PackageName) (*Descriptor, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(c.Root); err != nil {
		return nil, unreachable(fmt.Errorf("registry directory %s: %w", c.Root, err))
	}
	for _, ext := range descriptorExtensions {
		p := filepath.Join(c.Root, string(name)+ext)
		f, err := os.Open(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, unreachable(err)
		}
		d, err := parseDescriptor(name, f, p)
		_ = f.Close() // read-only
		return d, err
	}
	return nil, fmt.Errorf("%w: no descriptor for %q in %s", ErrNotFound, name, c.Root)
}

// WithCatalogHTTPClient sets the HTTP client used for descriptor requests.
func WithCatalogHTTPClient(c *http.Client) HTTPCatalogOption {
	return func(h *HTTPCatalog) { h.httpClient = c }
}

// WithRateLimit sets the request rate. A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) HTTPCatalogOption {
	return func(h *HTTPCatalog) {
		if perSecond <= 0 {
			h.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithCatalogUserAgent sets the User-Agent header.
func WithCatalogUserAgent(ua string) HTTPCatalogOption {
	return func(h *HTTPCatalog) { h.userAgent = ua }
}

// NewHTTPCatalog creates a catalog rooted at baseURL.
func NewHTTPCatalog(baseURL string, opts ...HTTPCatalogOption) *HTTPCatalog {
	c := &HTTPCatalog{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(DefaultRequestsPerSecond, defaultBurst),
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup implements Catalog.
func (c *HTTPCatalog) Lookup(ctx context.Context, name manifest.PackageName) (*Descriptor, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	for _, ext := range descriptorExtensions {
		d, err := c.fetch(ctx, name, c.baseURL+"/"+url.PathEscape(string(name)+ext))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return d, err
	}
	return nil, fmt.Errorf("%w: no descriptor for %q at %s", ErrNotFound, name, c.baseURL)
}

func (c *HTTPCatalog) fetch(ctx context.Context, name manifest.PackageName, target string) (*Descriptor, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml;q=0.9, */*;q=0.1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unreachable(err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	switch {
	case resp.StatusCode == http.StatusOK:
		return parseDescriptor(name, resp.Body, target)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, unreachable(fmt.Errorf("%s: status %d", target, resp.StatusCode))
	default:
		return nil, fmt.Errorf("%s: unexpected status %d", target, resp.StatusCode)
	}
}

// NewOverlay returns an overlay on base with no entries.
func NewOverlay(base Catalog) *Overlay {
	return &Overlay{Base: base, entries: map[manifest.PackageName]*Descriptor{}}
}

// OverlayFromManifest adds an entry for every dependency of m that names a
// source. Other dependencies fall through to base.
func OverlayFromManifest(base Catalog, m *manifest.Manifest) (*Overlay, error) {
	o := NewOverlay(base)
	for _, name := range m.DependencyNames() {
		dep := m.Dependencies[name]
		if dep.Source == "" {
			continue
		}
		repo, err := ExpandSource(dep.Source)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", name, err)
		}
		o.Set(&Descriptor{Name: name, Repository: repo, Path: dep.Path})
	}
	return o, nil
}

// Set adds or replaces an entry.
func (o *Overlay) Set(d *Descriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[d.Name] = d
}

// Lookup implements Catalog.
func (o *Overlay) Lookup(ctx context.Context, name manifest.PackageName) (*Descriptor, error) {
	o.mu.RLock()
	d, ok := o.entries[name]
	o.mu.RUnlock()
	if ok {
		return d, nil
	}
	if o.Base == nil {
		return nil, fmt.Errorf("%w: %q has no source and no registry is configured", ErrNotFound, name)
	}
	return o.Base.Lookup(ctx, name)
}
