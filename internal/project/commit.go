// SPDX-License-Identifier: MPL-2.0

package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lunekit/lunekit/internal/fsutil"
	"github.com/lunekit/lunekit/pkg/manifest"
)

type (
	// changeSet collects the project files an operation rewrites. commit
	// writes them in order and restores the previous contents of every
	// file already written when a later write fails.
	changeSet struct {
		dir    string
		writes []pendingWrite
	}

	pendingWrite struct {
		name string
		data []byte
	}

	snapshot struct {
		path    string
		data    []byte
		existed bool
	}
)

func newChangeSet(dir string) *changeSet { return &changeSet{dir: dir} }

func (c *changeSet) add(name string, data []byte) {
	c.writes = append(c.writes, pendingWrite{name: name, data: data})
}

func (c *changeSet) manifest(m *manifest.Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	c.add(manifest.FileName, data)
	return nil
}

func (c *changeSet) lock(l *manifest.Lockfile) {
	c.add(manifest.LockFileName, l.Marshal())
}

// commit applies the writes. Files whose content is unchanged are skipped.
func (c *changeSet) commit() (err error) {
	var done []snapshot
	defer func() {
		if err == nil {
			return
		}
		for i := len(done) - 1; i >= 0; i-- {
			if rerr := done[i].restore(); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
	}()

	for _, w := range c.writes {
		p := filepath.Join(c.dir, w.name)
		snap, serr := take(p)
		if serr != nil {
			return serr
		}
		if snap.existed && string(snap.data) == string(w.data) {
			continue
		}
		if werr := fsutil.WriteFileAtomic(p, w.data, 0o644); werr != nil {
			return werr
		}
		done = append(done, snap)
	}
	return nil
}

func take(p string) (snapshot, error) {
	data, err := os.ReadFile(p)
	switch {
	case err == nil:
		return snapshot{path: p, data: data, existed: true}, nil
	case errors.Is(err, os.ErrNotExist):
		return snapshot{path: p}, nil
	default:
		return snapshot{}, fmt.Errorf("read %s: %w", p, err)
	}
}

func (s snapshot) restore() error {
	if !s.existed {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("roll back %s: %w", s.path, err)
		}
		return nil
	}
	if err := fsutil.WriteFileAtomic(s.path, s.data, 0o644); err != nil {
		return fmt.Errorf("roll back %s: %w", s.path, err)
	}
	return nil
}

func (c *changeSet) luaurc(aliases map[string]string) error {
	data, err := manifest.RenderLuaurcAliases(c.dir, aliases)
	if err != nil {
		return err
	}
	c.add(manifest.LuaurcFileName, data)
	return nil
}
