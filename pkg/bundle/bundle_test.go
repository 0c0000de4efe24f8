// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/lunekit/lunekit/pkg/modgraph"
)

func sampleGraph() *modgraph.Graph {
	return &modgraph.Graph{
		Entry: "main.luau",
		Order: []string{"main.luau", "a.luau", "@pkg/init.luau"},
		Modules: map[string]*modgraph.Module{
			"main.luau": {ID: "main.luau", Source: []byte(`return require("./a")`), Requires: []modgraph.Require{
				{Spec: "./a", Line: 1, Target: "a.luau"},
				{Spec: "@lune/fs", Line: 2, Builtin: true},
			}},
			"a.luau":         {ID: "a.luau", Source: []byte(`return require("@pkg")`), Requires: []modgraph.Require{{Spec: "@pkg", Line: 1, Target: "@pkg/init.luau"}}},
			"@pkg/init.luau": {ID: "@pkg/init.luau", Source: []byte("return {}\n")},
		},
	}
}

func TestFromGraph(t *testing.T) {
	t.Parallel()

	b, err := FromGraph(sampleGraph())
	if err != nil {
		t.Fatalf("FromGraph() error = %v", err)
	}
	if want := []string{"main.luau", "a.luau", "@pkg/init.luau"}; !slices.Equal(b.IDs(), want) {
		t.Errorf("IDs() = %v, want %v", b.IDs(), want)
	}
	if r, ok := b.Record("@pkg/init.luau"); !ok || string(r.Source) != "return {}\n" {
		t.Errorf("Record() = %+v, %v", r, ok)
	}
}

func TestFromGraph_FailsClosed(t *testing.T) {
	t.Parallel()

	g := sampleGraph()
	delete(g.Modules, "@pkg/init.luau")
	g.Order = g.Order[:2]
	if _, err := FromGraph(g); !errors.Is(err, ErrMissingModule) {
		t.Errorf("FromGraph() error = %v, want ErrMissingModule", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	b, err := FromGraph(sampleGraph())
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := Encode(&buf, b)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("Encode() = %d bytes, buffer has %d", n, buf.Len())
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte(payloadMagic)) {
		t.Error("payload does not start with magic")
	}

	got, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Entry != b.Entry || !slices.Equal(got.IDs(), b.IDs()) {
		t.Errorf("Decode() = %v/%v, want %v/%v", got.Entry, got.IDs(), b.Entry, b.IDs())
	}

	var again bytes.Buffer
	if _, err := Encode(&again, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), again.Bytes()) {
		t.Error("re-encoding is not byte-identical")
	}
}

func TestDecode_Invalid(t *testing.T) {
	t.Parallel()

	b, _ := FromGraph(sampleGraph())
	var buf bytes.Buffer
	if _, err := Encode(&buf, b); err != nil {
		t.Fatal(err)
	}
	good := buf.Bytes()

	tests := map[string][]byte{
		"empty":     nil,
		"bad magic": append([]byte("NOTABUNDLE"), good[8:]...),
		"truncated": good[:len(good)-3],
		"bad version": func() []byte {
			c := slices.Clone(good)
			c[8] = 9
			return c
		}(),
	}
	for name, data := range tests {
		if _, err := Decode(bytes.NewReader(data)); !errors.Is(err, ErrInvalidBundle) {
			t.Errorf("%s: Decode() error = %v, want ErrInvalidBundle", name, err)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []*Bundle{
		{Entry: "main.luau"},
		{Entry: "main.luau", Records: []Record{{ID: "main.luau"}, {ID: "main.luau"}}},
		{Entry: "main.luau", Records: []Record{{ID: ""}}},
	}
	for i, b := range tests {
		if err := b.Validate(); !errors.Is(err, ErrInvalidBundle) {
			t.Errorf("case %d: Validate() error = %v", i, err)
		}
	}
}

func TestBuildAndOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	runtime := filepath.Join(dir, "lune")
	rtBytes := []byte("\x7fELF fake runtime bytes")
	if err := os.WriteFile(runtime, rtBytes, 0o755); err != nil {
		t.Fatal(err)
	}
	b, err := FromGraph(sampleGraph())
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "dist", "server")

	if err := Build(context.Background(), b, runtime, out); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("output mode = %v, want executable", info.Mode())
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, rtBytes) {
		t.Error("output does not start with the runtime")
	}
	if !bytes.HasSuffix(data, []byte(trailerMagic)) {
		t.Error("output does not end with the trailer magic")
	}

	got, err := Open(out)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got.Entry != "main.luau" || !slices.Equal(got.IDs(), b.IDs()) {
		t.Errorf("Open() = %v %v", got.Entry, got.IDs())
	}
	entries, _ := os.ReadDir(filepath.Dir(out))
	if len(entries) != 1 {
		t.Errorf("output directory has %d entries, want only the executable", len(entries))
	}
}

func TestBuild_FailureLeavesNoOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "server")
	b, _ := FromGraph(sampleGraph())

	if err := Build(context.Background(), b, filepath.Join(dir, "missing-runtime"), out); err == nil {
		t.Fatal("Build() succeeded without a runtime")
	}

	runtime := filepath.Join(dir, "lune")
	if err := os.WriteFile(runtime, []byte("rt"), 0o755); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Build(ctx, b, runtime, out); !errors.Is(err, context.Canceled) {
		t.Fatalf("Build() error = %v, want context.Canceled", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "lune" {
			t.Errorf("left behind %s", e.Name())
		}
	}
}

func TestOpen_NotABundle(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(p, bytes.Repeat([]byte("x"), 64), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(p); !errors.Is(err, ErrInvalidBundle) {
		t.Errorf("Open() error = %v, want ErrInvalidBundle", err)
	}
}
