// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"archive/tar"
	"bytes"
	"io/fs"
	"strings"
	"testing"
)

func TestTreeHasherOrderIndependent(t *testing.T) {
	t.Parallel()

	var a, b TreeHasher
	mustAdd(t, &a, "init.luau", 0o644, "return 1")
	mustAdd(t, &a, "lib/x.luau", 0o644, "return 2")
	mustAdd(t, &b, "./lib/x.luau", 0o600, "return 2")
	mustAdd(t, &b, "init.luau", 0o644, "return 1")

	if a.Sum() != b.Sum() {
		t.Error("fingerprint depends on insertion order or non-executable mode bits")
	}
	if err := a.Sum().Validate(); err != nil {
		t.Errorf("Sum() is not a valid fingerprint: %v", err)
	}
}

func TestTreeHasherSensitivity(t *testing.T) {
	t.Parallel()

	base := func() *TreeHasher {
		var h TreeHasher
		mustAdd(t, &h, "init.luau", 0o644, "return 1")
		return &h
	}
	ref := base().Sum()

	var content, mode, name TreeHasher
	mustAdd(t, &content, "init.luau", 0o644, "return 2")
	mustAdd(t, &mode, "init.luau", 0o755, "return 1")
	mustAdd(t, &name, "main.luau", 0o644, "return 1")

	for label, h := range map[string]*TreeHasher{"content": &content, "mode": &mode, "name": &name} {
		if h.Sum() == ref {
			t.Errorf("changing %s did not change the fingerprint", label)
		}
	}
}

func TestFingerprintTar(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	_ = tw.WriteHeader(&tar.Header{Name: "lib/", Typeflag: tar.TypeDir, Mode: 0o755})
	_ = tw.WriteHeader(&tar.Header{Name: "lib/a.luau", Typeflag: tar.TypeReg, Mode: 0o644, Size: 3})
	_, _ = tw.Write([]byte("abc"))
	_ = tw.Close()

	got, err := FingerprintTar(&buf)
	if err != nil {
		t.Fatalf("FingerprintTar() error: %v", err)
	}
	var want TreeHasher
	mustAdd(t, &want, "lib/a.luau", 0o644, "abc")
	if got != want.Sum() {
		t.Errorf("FingerprintTar() = %s, want %s", got, want.Sum())
	}
}

func TestFingerprintTarRejectsLinks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	_ = tw.WriteHeader(&tar.Header{Name: "evil", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"})
	_ = tw.Close()

	if _, err := FingerprintTar(&buf); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("FingerprintTar() error = %v, want unsupported entry", err)
	}
}

func mustAdd(t *testing.T, h *TreeHasher, p string, mode fs.FileMode, body string) {
	t.Helper()
	if _, err := h.Add(p, mode, strings.NewReader(body)); err != nil {
		t.Fatal(err)
	}
}
