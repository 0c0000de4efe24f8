// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"archive/tar"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// epoch is the modification time of every archive entry, so archives of the
// same tree are byte-identical.
var epoch = time.Unix(0, 0).UTC()

// writeTreeTar writes the files of tree to w in path order.
func writeTreeTar(w io.Writer, tree *object.Tree) error {
	var files []*object.File
	if err := tree.Files().ForEach(func(f *object.File) error {
		files = append(files, f)
		return nil
	}); err != nil {
		return fmt.Errorf("walk tree: %w", err)
	}
	slices.SortFunc(files, func(a, b *object.File) int { return strings.Compare(a.Name, b.Name) })

	tw := tar.NewWriter(w)
	for _, f := range files {
		if err := writeTreeFile(tw, f); err != nil {
			return err
		}
	}
	return tw.Close()
}

// writeTreeFile writes one regular file. Symlinks and submodules are left
// out: the store never materializes links, so an archive carrying one could
// not be fingerprinted or installed.
func writeTreeFile(tw *tar.Writer, f *object.File) error {
	switch f.Mode {
	case filemode.Regular, filemode.Deprecated, filemode.Executable:
	default:
		return nil
	}

	mode := int64(0o644)
	if f.Mode == filemode.Executable {
		mode = 0o755
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:     f.Name,
		Typeflag: tar.TypeReg,
		Mode:     mode,
		Size:     f.Size,
		ModTime:  epoch,
	}); err != nil {
		return fmt.Errorf("write header %s: %w", f.Name, err)
	}
	r, err := f.Reader()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() { _ = r.Close() }()
	if _, err := io.Copy(tw, r); err != nil {
		return fmt.Errorf("copy %s: %w", f.Name, err)
	}
	return nil
}
