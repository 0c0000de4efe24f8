// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"cuelang.org/go/cue/cuecontext"
)

func TestFormatErrorNonCUE(t *testing.T) {
	t.Parallel()

	if err := FormatError(nil, "x.cue"); err != nil {
		t.Errorf("FormatError(nil) = %v, want nil", err)
	}

	orig := errors.New("boom")
	err := FormatError(orig, "lunekit.lock.cue")
	if !errors.Is(err, orig) {
		t.Errorf("FormatError() should wrap non-CUE errors, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "lunekit.lock.cue: ") {
		t.Errorf("FormatError() = %q, want file prefix", err)
	}
}

func TestFormatErrorKeepsWrappedChain(t *testing.T) {
	t.Parallel()

	err := FormatError(fmt.Errorf("open config.cue: %w", fs.ErrNotExist), "config.cue")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("FormatError() lost the wrapped cause: %v", err)
	}
}

func TestFormatErrorCUE(t *testing.T) {
	t.Parallel()

	verr := cuecontext.New().CompileString(`graph: cycles: int & "warn"`).Validate()
	if verr == nil {
		t.Fatal("expected a CUE conflict")
	}
	err := FormatError(verr, "config.cue")
	if !strings.HasPrefix(err.Error(), "config.cue: graph.cycles") {
		t.Errorf("FormatError() = %q, want file and path prefix", err)
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path []string
		want string
	}{
		{nil, ""},
		{[]string{"version"}, "version"},
		{[]string{"graph", "cycles"}, "graph.cycles"},
		{[]string{"packages", "0", "fingerprint"}, "packages[0].fingerprint"},
		{[]string{"a", "1", "b", "22"}, "a[1].b[22]"},
		{[]string{"0"}, "0"},
	}

	for _, tt := range tests {
		if got := formatPath(tt.path); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	if err := CheckFileSize(make([]byte, 100), 100, "a.cue"); err != nil {
		t.Errorf("CheckFileSize() at limit = %v, want nil", err)
	}
	err := CheckFileSize(make([]byte, 101), 100, "a.cue")
	if err == nil || !strings.Contains(err.Error(), "101") {
		t.Errorf("CheckFileSize() over limit = %v, want size error", err)
	}
}
