// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"testing"
)

func TestExpandSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    GitURL
		wantErr bool
	}{
		{in: "github:me/utils", want: "https://github.com/me/utils.git"},
		{in: "github:me/utils.git", want: "https://github.com/me/utils.git"},
		{in: " github:org-1/lib_x ", want: "https://github.com/org-1/lib_x.git"},
		{in: "https://gitlab.com/a/b.git", want: "https://gitlab.com/a/b.git"},
		{in: "git@github.com:a/b.git", want: "git@github.com:a/b.git"},
		{in: "ssh://git@host/a/b", want: "ssh://git@host/a/b"},
		{in: "file:///tmp/repo", want: "file:///tmp/repo"},
		{in: "/srv/git/repo", want: "/srv/git/repo"},
		{in: "github:onlyowner", wantErr: true},
		{in: "ftp://host/x", wantErr: true},
		{in: "https:///nohost", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ExpandSource(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidSource) {
				t.Errorf("ExpandSource(%q) error = %v, want ErrInvalidSource", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ExpandSource(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExpandSource(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGitURLIsSSH(t *testing.T) {
	t.Parallel()

	for u, want := range map[GitURL]bool{
		"git@github.com:a/b.git": true,
		"ssh://host/a":           true,
		"https://github.com/a/b": false,
		"file:///tmp/repo":       false,
		"git@nohostpath":         false,
	} {
		if got := u.IsSSH(); got != want {
			t.Errorf("%q.IsSSH() = %v, want %v", u, got, want)
		}
	}
}
