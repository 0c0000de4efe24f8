// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/lunekit/lunekit/pkg/manifest"
)

type (
	// TreeHasher computes a package fingerprint from the regular files of a
	// tree. The result depends only on paths, executable bits and contents,
	// not on the order files are added or on archive metadata.
	TreeHasher struct {
		files []hashedFile
	}

	hashedFile struct {
		path   string
		mode   fs.FileMode
		size   int64
		digest string
	}
)

// Add hashes the content read from r and records it under p. It returns the
// number of bytes read.
func (h *TreeHasher) Add(p string, mode fs.FileMode, r io.Reader) (int64, error) {
	sum := sha256.New()
	n, err := io.Copy(sum, r)
	if err != nil {
		return n, err
	}
	norm := fs.FileMode(0o644)
	if mode&0o111 != 0 {
		norm = 0o755
	}
	h.files = append(h.files, hashedFile{
		path:   path.Clean(strings.TrimPrefix(p, "./")),
		mode:   norm,
		size:   n,
		digest: hex.EncodeToString(sum.Sum(nil)),
	})
	return n, nil
}

// Sum returns the fingerprint of everything added so far.
func (h *TreeHasher) Sum() manifest.Fingerprint {
	files := slices.Clone(h.files)
	slices.SortFunc(files, func(a, b hashedFile) int { return strings.Compare(a.path, b.path) })

	sum := sha256.New()
	for _, f := range files {
		fmt.Fprintf(sum, "%s\x00%o\x00%d\x00%s\n", f.path, f.mode, f.size, f.digest)
	}
	return manifest.Fingerprint("sha256:" + hex.EncodeToString(sum.Sum(nil)))
}

// FingerprintTar reads a whole tar stream and returns its fingerprint.
func FingerprintTar(r io.Reader) (manifest.Fingerprint, error) {
	var h TreeHasher
	if err := walkTar(r, func(hdr *tar.Header, body io.Reader) error {
		_, err := h.Add(hdr.Name, hdr.FileInfo().Mode(), body)
		return err
	}); err != nil {
		return "", err
	}
	return h.Sum(), nil
}

// walkTar calls fn for every regular file in the archive. Directory entries
// are skipped and any other entry type is an error.
func walkTar(r io.Reader, fn func(hdr *tar.Header, body io.Reader) error) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
			if err := fn(hdr, tr); err != nil {
				return err
			}
		default:
			return fmt.Errorf("archive entry %s: unsupported type %q", hdr.Name, hdr.Typeflag)
		}
	}
}
