// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Build writes an executable at outputPath made of the runtime at
// runtimePath followed by b. The output appears atomically: on any failure
// no file is left at outputPath and the temporary file is removed.
func Build(ctx context.Context, b *Bundle, runtimePath, outputPath string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}

	rt, err := os.Open(runtimePath)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer func() { _ = rt.Close() }()

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outputPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	offset, err := io.Copy(tmp, rt)
	if err != nil {
		return fmt.Errorf("copy runtime: %w", err)
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	length, err := Encode(tmp, b)
	if err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	trailer := make([]byte, 0, trailerSize)
	trailer = binary.LittleEndian.AppendUint64(trailer, uint64(offset))
	trailer = binary.LittleEndian.AppendUint64(trailer, uint64(length))
	trailer = append(trailer, trailerMagic...)
	if _, err = tmp.Write(trailer); err != nil {
		return fmt.Errorf("write trailer: %w", err)
	}
	if err = tmp.Chmod(0o755); err != nil {
		return fmt.Errorf("chmod output: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), outputPath); err != nil {
		return fmt.Errorf("move output into place: %w", err)
	}
	return nil
}

// Open reads the bundle embedded in the executable at path.
func Open(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Read(f, info.Size())
}

// Read locates the trailer at the end of r and decodes the payload.
func Read(r io.ReaderAt, size int64) (*Bundle, error) {
	if size < int64(trailerSize) {
		return nil, fmt.Errorf("%w: file too small", ErrInvalidBundle)
	}
	trailer := make([]byte, trailerSize)
	if _, err := r.ReadAt(trailer, size-int64(trailerSize)); err != nil {
		return nil, fmt.Errorf("read trailer: %w", err)
	}
	if string(trailer[16:]) != trailerMagic {
		return nil, fmt.Errorf("%w: no embedded bundle", ErrInvalidBundle)
	}
	offset := binary.LittleEndian.Uint64(trailer[0:8])
	length := binary.LittleEndian.Uint64(trailer[8:16])
	end := uint64(size - int64(trailerSize))
	if offset > end || length != end-offset {
		return nil, fmt.Errorf("%w: trailer points outside the file", ErrInvalidBundle)
	}
	return Decode(io.NewSectionReader(r, int64(offset), int64(length)))
}
