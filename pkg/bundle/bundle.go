// SPDX-License-Identifier: MPL-2.0

// Package bundle packs a module graph into a payload appended to a runtime
// executable, and reads it back.
//
// Executable layout: runtime bytes, payload, trailer. The trailer is the
// payload offset (u64), the payload length (u64) and the magic "LUNEKIT!".
// The payload is the magic "LKBUNDLE", a u32 format version, the entry ID,
// a u32 record count and the records, each a u32 ID length, the ID, a u64
// source length and the source. Integers are little-endian.
package bundle

import (
	"errors"
	"fmt"

	"github.com/lunekit/lunekit/pkg/modgraph"
)

// FormatVersion is the payload format written by Encode.
const FormatVersion uint32 = 1

var (
	// ErrInvalidBundle is returned for data that is not a well-formed bundle.
	ErrInvalidBundle = errors.New("invalid bundle")
	// ErrMissingModule is returned when a resolved require has no record.
	ErrMissingModule = errors.New("required module missing from bundle")
)

type (
	// Bundle is an entry module plus every module it can reach.
	Bundle struct {
		Entry   string
		Records []Record
	}

	// Record is one embedded module.
	Record struct {
		ID     string
		Source []byte
	}
)

// FromGraph collects g's modules in discovery order. It fails if any
// resolved require points at a module the graph does not hold.
func FromGraph(g *modgraph.Graph) (*Bundle, error) {
	if _, ok := g.Modules[g.Entry]; !ok {
		return nil, fmt.Errorf("%w: entry %s", ErrMissingModule, g.Entry)
	}
	b := &Bundle{Entry: g.Entry, Records: make([]Record, 0, len(g.Order))}
	for _, id := range g.Order {
		m := g.Modules[id]
		for _, req := range m.Requires {
			if req.Target == "" {
				continue
			}
			if _, ok := g.Modules[req.Target]; !ok {
				return nil, fmt.Errorf("%w: %s (required by %s:%d)", ErrMissingModule, req.Target, id, req.Line)
			}
		}
		b.Records = append(b.Records, Record{ID: id, Source: m.Source})
	}
	return b, nil
}

// Record returns the record with the given ID.
func (b *Bundle) Record(id string) (Record, bool) {
	for _, r := range b.Records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// IDs returns the record IDs in bundle order.
func (b *Bundle) IDs() []string {
	ids := make([]string, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.ID
	}
	return ids
}

// Validate checks that the entry has a record and that IDs are unique.
func (b *Bundle) Validate() error {
	seen := make(map[string]bool, len(b.Records))
	for _, r := range b.Records {
		if r.ID == "" || len(r.ID) > maxIDLen {
			return fmt.Errorf("%w: module ID %q", ErrInvalidBundle, r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate module %s", ErrInvalidBundle, r.ID)
		}
		seen[r.ID] = true
	}
	if !seen[b.Entry] {
		return fmt.Errorf("%w: entry %q has no record", ErrInvalidBundle, b.Entry)
	}
	return nil
}
