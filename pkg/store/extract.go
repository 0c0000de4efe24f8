// SPDX-License-Identifier: MPL-2.0

package store

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/registry"
)

// ErrUnsafeArchive is returned for archive entries that would escape the
// destination or are not plain files and directories.
var ErrUnsafeArchive = errors.New("unsafe archive entry")

// extract unpacks a tar stream into dest and returns the fingerprint of the
// extracted files.
func extract(r io.Reader, dest string) (manifest.Fingerprint, error) {
	var h registry.TreeHasher
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return h.Sum(), nil
		}
		if err != nil {
			return "", fmt.Errorf("read archive: %w", err)
		}

		rel, err := safeRelPath(hdr.Name)
		if err != nil {
			return "", err
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}
			mode := os.FileMode(0o644)
			if hdr.FileInfo().Mode()&0o111 != 0 {
				mode = 0o755
			}
			if err := writeEntry(target, mode, tr, &h, rel); err != nil {
				return "", err
			}
		default:
			return "", fmt.Errorf("%w: %s has type %q (links are not allowed)", ErrUnsafeArchive, hdr.Name, hdr.Typeflag)
		}
	}
}

func writeEntry(target string, mode os.FileMode, body io.Reader, h *registry.TreeHasher, rel string) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", rel, err)
	}
	if _, err := h.Add(rel, mode, io.TeeReader(body, f)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return f.Close()
}

// safeRelPath validates an archive path and returns it cleaned.
func safeRelPath(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) || strings.Contains(name, `\`) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeArchive, name)
	}
	if path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q is absolute", ErrUnsafeArchive, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the package", ErrUnsafeArchive, name)
	}
	return clean, nil
}
