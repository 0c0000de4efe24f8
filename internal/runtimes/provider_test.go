// SPDX-License-Identifier: MPL-2.0

package runtimes

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

var fakeRuntime = []byte("#!/bin/sh\necho lune\n")

func zipWith(t *testing.T, name string, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type releaseServer struct {
	*httptest.Server
	downloads atomic.Int64
}

// newReleaseServer serves one release v0.8.9 with the given assets.
func newReleaseServer(t *testing.T, assets map[string][]byte) *releaseServer {
	t.Helper()
	rs := &releaseServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/lune-org/lune/releases/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/latest") && !strings.HasSuffix(r.URL.Path, "/tags/v0.8.9") {
			http.NotFound(w, r)
			return
		}
		rel := githubRelease{TagName: "v0.8.9"}
		for name, body := range assets {
			rel.Assets = append(rel.Assets, githubAsset{
				Name:               name,
				BrowserDownloadURL: rs.URL + "/download/" + name,
				Size:               int64(len(body)),
			})
		}
		_ = json.NewEncoder(w).Encode(rel)
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := assets[strings.TrimPrefix(r.URL.Path, "/download/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		rs.downloads.Add(1)
		_, _ = w.Write(body)
	})
	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func newProvider(t *testing.T, srv *releaseServer, version string) *Provider {
	t.Helper()
	client, err := NewGitHubClient("lune-org/lune", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	return &Provider{CacheDir: t.TempDir(), Version: version, Releases: client}
}

func TestProvider_Dir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	want := filepath.Join(dir, "linux-aarch64", "lune")
	if err := os.MkdirAll(filepath.Dir(want), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(want, fakeRuntime, 0o755); err != nil {
		t.Fatal(err)
	}

	p := &Provider{Dir: dir}
	got, err := p.Runtime(context.Background(), LinuxAarch64)
	if err != nil || got != want {
		t.Errorf("Runtime() = %q, %v; want %q", got, err, want)
	}

	_, err = p.Runtime(context.Background(), WindowsX86_64)
	if !errors.Is(err, ErrUnsupportedTarget) {
		t.Errorf("Runtime(windows) error = %v, want ErrUnsupportedTarget", err)
	}
}

func TestProvider_DownloadVerifiesAndCaches(t *testing.T) {
	t.Parallel()

	archive := zipWith(t, "lune", fakeRuntime)
	sum := sha256.Sum256(archive)
	srv := newReleaseServer(t, map[string][]byte{
		"lune-0.8.9-linux-x86_64.zip": archive,
		"checksums.txt":               []byte(hex.EncodeToString(sum[:]) + "  lune-0.8.9-linux-x86_64.zip\n"),
	})
	p := newProvider(t, srv, "0.8.9")

	got, err := p.Runtime(context.Background(), LinuxX86_64)
	if err != nil {
		t.Fatalf("Runtime() error = %v", err)
	}
	data, err := os.ReadFile(got)
	if err != nil || !bytes.Equal(data, fakeRuntime) {
		t.Errorf("runtime contents = %q, %v", data, err)
	}
	if info, _ := os.Stat(got); info.Mode().Perm()&0o100 == 0 {
		t.Errorf("runtime mode = %v, want executable", info.Mode())
	}

	before := srv.downloads.Load()
	again, err := p.Runtime(context.Background(), LinuxX86_64)
	if err != nil || again != got {
		t.Fatalf("second Runtime() = %q, %v", again, err)
	}
	if srv.downloads.Load() != before {
		t.Error("cached runtime was downloaded again")
	}
}

func TestProvider_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	srv := newReleaseServer(t, map[string][]byte{
		"lune-0.8.9-linux-x86_64.zip": zipWith(t, "lune", fakeRuntime),
		"checksums.txt":               []byte(strings.Repeat("0", 64) + "  lune-0.8.9-linux-x86_64.zip\n"),
	})
	p := newProvider(t, srv, "")

	_, err := p.Runtime(context.Background(), LinuxX86_64)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Runtime() error = %v, want ErrChecksumMismatch", err)
	}
	if isFile(p.cachePath("0.8.9", LinuxX86_64)) {
		t.Error("unverified runtime was cached")
	}
}

func TestProvider_WindowsBinaryInSubdir(t *testing.T) {
	t.Parallel()

	srv := newReleaseServer(t, map[string][]byte{
		"lune-0.8.9-windows-x86_64.zip": zipWith(t, "lune-0.8.9/lune.exe", fakeRuntime),
	})
	p := newProvider(t, srv, "0.8.9")

	got, err := p.Runtime(context.Background(), WindowsX86_64)
	if err != nil {
		t.Fatalf("Runtime() error = %v", err)
	}
	if filepath.Base(got) != "lune.exe" {
		t.Errorf("Runtime() = %q", got)
	}
}

func TestProvider_MissingAsset(t *testing.T) {
	t.Parallel()

	srv := newReleaseServer(t, map[string][]byte{
		"lune-0.8.9-linux-x86_64.zip": zipWith(t, "lune", fakeRuntime),
	})
	p := newProvider(t, srv, "0.8.9")

	_, err := p.Runtime(context.Background(), MacosAarch64)
	var ute *UnsupportedTargetError
	if !errors.As(err, &ute) || ute.Target != MacosAarch64 {
		t.Errorf("Runtime() error = %v, want UnsupportedTargetError", err)
	}
}

func TestProvider_UnknownRelease(t *testing.T) {
	t.Parallel()

	srv := newReleaseServer(t, nil)
	p := newProvider(t, srv, "9.9.9")

	if _, err := p.Runtime(context.Background(), LinuxX86_64); !errors.Is(err, ErrReleaseNotFound) {
		t.Errorf("Runtime() error = %v, want ErrReleaseNotFound", err)
	}
}

func TestNewGitHubClient_BadRepo(t *testing.T) {
	t.Parallel()

	for _, repo := range []string{"", "lune", "a/b/c", "/lune"} {
		if _, err := NewGitHubClient(repo); err == nil {
			t.Errorf("NewGitHubClient(%q) succeeded", repo)
		}
	}
}

func TestCheckRateLimit(t *testing.T) {
	t.Parallel()

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("X-RateLimit-Remaining", "0")
	resp.Header.Set("X-RateLimit-Limit", "60")
	resp.Header.Set("X-RateLimit-Reset", "1700000000")
	var rle *RateLimitError
	if err := checkRateLimit(resp); !errors.As(err, &rle) || rle.Limit != 60 {
		t.Errorf("checkRateLimit() = %v", err)
	}

	resp.Header.Set("X-RateLimit-Remaining", "12")
	if err := checkRateLimit(resp); err != nil {
		t.Errorf("checkRateLimit() with quota = %v", err)
	}
}

func TestParseChecksums(t *testing.T) {
	t.Parallel()

	a := strings.Repeat("a", 64)
	b := strings.Repeat("B", 64)
	sums, err := parseChecksums(strings.NewReader(a + "  one.zip\n\nnot a line\n" + b + " *two.zip\n"))
	if err != nil {
		t.Fatal(err)
	}
	if sums["one.zip"] != a || sums["two.zip"] != strings.ToLower(b) || len(sums) != 2 {
		t.Errorf("parseChecksums() = %v", sums)
	}
}
