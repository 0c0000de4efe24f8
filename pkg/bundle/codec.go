// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	payloadMagic = "LKBUNDLE"
	trailerMagic = "LUNEKIT!"
	trailerSize  = 8 + 8 + len(trailerMagic)

	maxIDLen = 4096
)

// Encode writes the payload for b to w and returns the byte count.
func Encode(w io.Writer, b *Bundle) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}
	cw.write([]byte(payloadMagic))
	cw.u32(FormatVersion)
	cw.str32(b.Entry)
	cw.u32(uint32(len(b.Records)))
	for _, r := range b.Records {
		cw.str32(r.ID)
		cw.u64(uint64(len(r.Source)))
		cw.write(r.Source)
	}
	if cw.err == nil {
		cw.err = bw.Flush()
	}
	return cw.n, cw.err
}

// Decode reads a payload.
func Decode(r io.Reader) (*Bundle, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(payloadMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != payloadMagic {
		return nil, fmt.Errorf("%w: bad payload magic", ErrInvalidBundle)
	}
	var version uint32
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, truncated(err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrInvalidBundle, version)
	}
	entry, err := readStr32(br)
	if err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, truncated(err)
	}

	b := &Bundle{Entry: entry}
	for range count {
		id, err := readStr32(br)
		if err != nil {
			return nil, err
		}
		var n uint64
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, truncated(err)
		}
		src, err := io.ReadAll(io.LimitReader(br, int64(n)))
		if err != nil {
			return nil, err
		}
		if uint64(len(src)) != n {
			return nil, fmt.Errorf("%w: module %s truncated", ErrInvalidBundle, id)
		}
		b.Records = append(b.Records, Record{ID: id, Source: src})
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func readStr32(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", truncated(err)
	}
	if n > maxIDLen {
		return "", fmt.Errorf("%w: module ID of %d bytes", ErrInvalidBundle, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", truncated(err)
	}
	return string(buf), nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated payload", ErrInvalidBundle)
	}
	return err
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) write(p []byte) {
	if c.err != nil {
		return
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
}

func (c *countingWriter) u32(v uint32) { c.write(binary.LittleEndian.AppendUint32(nil, v)) }

func (c *countingWriter) u64(v uint64) { c.write(binary.LittleEndian.AppendUint64(nil, v)) }

func (c *countingWriter) str32(s string) {
	c.u32(uint32(len(s)))
	c.write([]byte(s))
}
