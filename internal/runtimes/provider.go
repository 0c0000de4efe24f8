// SPDX-License-Identifier: MPL-2.0

package runtimes

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

// checksumsAsset is the optional release asset listing sha256 sums.
const checksumsAsset = "checksums.txt"

// maxRuntimeBytes bounds the extracted runtime executable.
const maxRuntimeBytes = 512 << 20

// Provider finds the runtime executable for a target. Sources are tried in
// order: Dir, the download cache, PATH (host target only, when SearchPath
// is set), then a GitHub release download when Releases is set.
type Provider struct {
	// Dir holds prebuilt runtimes as <Dir>/<target>/lune[.exe].
	Dir string
	// CacheDir receives downloaded runtimes.
	CacheDir string
	// Version pins the release, e.g. "0.8.9". Empty means latest.
	Version string
	// Releases downloads missing runtimes. Nil disables downloads.
	Releases   *GitHubClient
	SearchPath bool
	Logger     *slog.Logger
}

// Runtime returns the path of the runtime executable for target.
func (p *Provider) Runtime(ctx context.Context, target Target) (string, error) {
	if err := target.Validate(); err != nil {
		return "", err
	}
	bin := target.BinaryName()

	if p.Dir != "" {
		if c := filepath.Join(p.Dir, string(target), bin); isFile(c) {
			return c, nil
		}
	}
	if p.Version != "" && p.CacheDir != "" {
		if c := p.cachePath(p.Version, target); isFile(c) {
			return c, nil
		}
	}
	if p.SearchPath {
		if host, err := HostTarget(); err == nil && host == target {
			if c, err := exec.LookPath(bin); err == nil {
				return c, nil
			}
		}
	}
	if p.Releases == nil || p.CacheDir == "" {
		return "", &UnsupportedTargetError{Target: target, Reason: "no runtime found and no release repository configured"}
	}
	return p.download(ctx, target)
}

func (p *Provider) cachePath(version string, target Target) string {
	return filepath.Join(p.CacheDir, "runtimes", version, string(target), target.BinaryName())
}

func (p *Provider) download(ctx context.Context, target Target) (string, error) {
	tag := ""
	if p.Version != "" {
		tag = "v" + strings.TrimPrefix(p.Version, "v")
	}
	rel, err := p.Releases.Release(ctx, tag)
	if err != nil {
		return "", err
	}
	version := strings.TrimPrefix(rel.TagName, "v")
	dest := p.cachePath(version, target)
	if isFile(dest) {
		return dest, nil
	}

	assetName := fmt.Sprintf("lune-%s-%s.zip", version, target)
	asset, ok := rel.Asset(assetName)
	if !ok {
		return "", &UnsupportedTargetError{Target: target, Reason: fmt.Sprintf("release %s has no asset %s", rel.TagName, assetName)}
	}
	p.logger().Info("downloading runtime", "target", target, "version", version)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	archive, err := os.CreateTemp(filepath.Dir(dest), ".download-*.zip")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	sum, err := p.fetch(ctx, asset.BrowserDownloadURL, archive)
	if err != nil {
		return "", err
	}
	if err := p.verify(ctx, rel, assetName, sum); err != nil {
		return "", err
	}
	if err := extractBinary(archive, target.BinaryName(), dest); err != nil {
		return "", fmt.Errorf("extract %s: %w", assetName, err)
	}
	return dest, nil
}

// fetch downloads url into w and returns its sha256.
func (p *Provider) fetch(ctx context.Context, url string, w io.Writer) (string, error) {
	body, err := p.Releases.Download(ctx, url)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(w, h), body); err != nil {
		return "", fmt.Errorf("downloading %s: %w", redactURL(url), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verify checks sum against the release's checksums.txt when it has one.
func (p *Provider) verify(ctx context.Context, rel *Release, assetName, sum string) error {
	asset, ok := rel.Asset(checksumsAsset)
	if !ok {
		p.logger().Debug("release has no checksums, skipping verification", "release", rel.TagName)
		return nil
	}
	body, err := p.Releases.Download(ctx, asset.BrowserDownloadURL)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()
	sums, err := parseChecksums(io.LimitReader(body, 1<<20))
	if err != nil {
		return err
	}
	want, ok := sums[assetName]
	if !ok {
		return fmt.Errorf("%w: %s", errNoChecksum, assetName)
	}
	if want != sum {
		return &ChecksumError{Filename: assetName, Expected: want, Got: sum}
	}
	return nil
}

// extractBinary copies the entry named bin out of the zip in f to dest,
// atomically and executable.
func extractBinary(f *os.File, bin, dest string) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return err
	}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || path.Base(zf.Name) != bin {
			continue
		}
		return writeExecutable(zf, dest)
	}
	return fmt.Errorf("archive has no %s", bin)
}

func writeExecutable(zf *zip.File, dest string) (err error) {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".runtime-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	n, err := io.Copy(tmp, io.LimitReader(rc, maxRuntimeBytes+1))
	if err != nil {
		return err
	}
	if n > maxRuntimeBytes {
		return errors.New("runtime executable exceeds size limit")
	}
	if err = tmp.Chmod(0o755); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (p *Provider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
