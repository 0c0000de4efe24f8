// SPDX-License-Identifier: MPL-2.0

package modgraph

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// cacheSchema is bumped whenever the cached payload or the extraction rules
// change, which invalidates every existing entry.
const cacheSchema uint16 = 1

type (
	// Cache stores extraction results on disk keyed by source content. A nil
	// *Cache is valid and caches nothing.
	Cache struct {
		dir string
	}

	cachePayload struct {
		Schema   uint16    `msgpack:"schema"`
		Size     int       `msgpack:"size"`
		Lexical  bool      `msgpack:"lexical"`
		Requires []Require `msgpack:"requires"`
	}
)

// OpenCache returns a cache rooted at dir, creating it if needed.
func OpenCache(dir string) (*Cache, error) {
	dir = filepath.Join(dir, "requires")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create require cache: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) pathFor(src []byte) string {
	return filepath.Join(c.dir, fmt.Sprintf("%016x.mp", xxhash.Sum64(src)))
}

// Get returns the cached extraction for src. Unreadable or stale entries are
// misses.
func (c *Cache) Get(src []byte) (ExtractResult, bool) {
	if c == nil {
		return ExtractResult{}, false
	}
	data, err := os.ReadFile(c.pathFor(src))
	if err != nil {
		return ExtractResult{}, false
	}
	var p cachePayload
	if err := msgpack.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return ExtractResult{}, false
	}
	if p.Schema != cacheSchema || p.Size != len(src) {
		return ExtractResult{}, false
	}
	return ExtractResult{Requires: p.Requires, Lexical: p.Lexical}, true
}

// Put stores res for src. The write is atomic.
func (c *Cache) Put(src []byte, res ExtractResult) (err error) {
	if c == nil {
		return nil
	}
	p := c.pathFor(src)
	f, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	enc := msgpack.NewEncoder(f)
	if err = enc.Encode(&cachePayload{
		Schema:   cacheSchema,
		Size:     len(src),
		Lexical:  res.Lexical,
		Requires: res.Requires,
	}); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Clear removes every cached entry.
func (c *Cache) Clear() error {
	if c == nil {
		return nil
	}
	if err := os.RemoveAll(c.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.MkdirAll(c.dir, 0o755)
}
