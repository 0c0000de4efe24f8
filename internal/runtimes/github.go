// SPDX-License-Identifier: MPL-2.0

package runtimes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxJSONResponseBytes bounds a release API response.
const maxJSONResponseBytes = 10 << 20

// ErrReleaseNotFound is returned when a requested release does not exist.
var ErrReleaseNotFound = errors.New("release not found")

type (
	// RateLimitError is returned when the GitHub API rate limit is exhausted.
	RateLimitError struct {
		Limit   int
		ResetAt time.Time
	}

	// Release is a GitHub release with its assets.
	Release struct {
		TagName string
		Assets  []Asset
	}

	// Asset is one downloadable release file.
	Asset struct {
		Name               string
		BrowserDownloadURL string
		Size               int64
	}

	githubRelease struct {
		TagName string        `json:"tag_name"`
		Assets  []githubAsset `json:"assets"`
	}

	githubAsset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	}

	// GitHubClient reads runtime releases from the GitHub Releases API.
	GitHubClient struct {
		httpClient *http.Client
		owner      string
		repo       string
		baseURL    string
		token      string
		userAgent  string
	}

	// ClientOption configures a GitHubClient.
	ClientOption func(*GitHubClient)
)

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit exceeded (limit %d, resets at %s)",
		e.Limit, e.ResetAt.UTC().Format("15:04 UTC"))
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(g *GitHubClient) { g.httpClient = c }
}

// WithBaseURL overrides the API base URL, primarily for test servers.
func WithBaseURL(base string) ClientOption {
	return func(g *GitHubClient) { g.baseURL = strings.TrimRight(base, "/") }
}

// WithToken sets a token sent to GitHub hosts only.
func WithToken(token string) ClientOption {
	return func(g *GitHubClient) { g.token = token }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(g *GitHubClient) { g.userAgent = ua }
}

// NewGitHubClient returns a client for the releases of repo ("owner/name").
func NewGitHubClient(repo string, opts ...ClientOption) (*GitHubClient, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("runtime repository %q is not owner/name", repo)
	}
	c := &GitHubClient{
		httpClient: http.DefaultClient,
		owner:      owner,
		repo:       name,
		baseURL:    "https://api.github.com",
		userAgent:  "lunekit",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Release fetches the release tagged tag, or the latest release when tag is
// empty.
func (c *GitHubClient) Release(ctx context.Context, tag string) (*Release, error) {
	reqURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, c.owner, c.repo)
	if tag != "" {
		reqURL = fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", c.baseURL, c.owner, c.repo, url.PathEscape(tag))
	}

	resp, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("getting release %s: %w", orLatest(tag), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkRateLimit(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s %s", ErrReleaseNotFound, c.owner, c.repo, orLatest(tag))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getting release %s: unexpected status %d", orLatest(tag), resp.StatusCode)
	}

	var gr githubRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&gr); err != nil {
		return nil, fmt.Errorf("getting release %s: decoding response: %w", orLatest(tag), err)
	}
	r := &Release{TagName: gr.TagName}
	for _, a := range gr.Assets {
		r.Assets = append(r.Assets, Asset(a))
	}
	return r, nil
}

// Asset returns the asset with the given file name.
func (r *Release) Asset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// Download streams the asset at assetURL. The caller closes the body.
func (c *GitHubClient) Download(ctx context.Context, assetURL string) (io.ReadCloser, error) {
	resp, err := c.doRequest(ctx, assetURL)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", redactURL(assetURL), err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("downloading %s: unexpected status %d", redactURL(assetURL), resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *GitHubClient) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)

	// The token never follows a redirect to a third-party CDN.
	if c.token != "" && isGitHubHost(req.URL, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

func checkRateLimit(resp *http.Response) error {
	rem, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil || rem > 0 {
		return nil //nolint:nilerr // missing or malformed header is not a rate limit
	}
	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // best-effort
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // best-effort
	return &RateLimitError{Limit: limit, ResetAt: time.Unix(resetUnix, 0)}
}

func isGitHubHost(reqURL *url.URL, baseURL string) bool {
	base, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	if strings.EqualFold(reqURL.Host, base.Host) {
		return true
	}
	return strings.EqualFold(base.Host, "api.github.com") && strings.EqualFold(reqURL.Host, "github.com")
}

// redactURL strips the query and fragment for use in error messages.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func orLatest(tag string) string {
	if tag == "" {
		return "latest"
	}
	return tag
}
