// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"net/url"
	"regexp"
	"strings"
)

var githubShorthandRegex = regexp.MustCompile(`^github:([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+?)(?:\.git)?$`)

// GitURL is a repository location accepted by go-git: https://, http://,
// ssh://, file:// or scp-like git@host:path.
type GitURL string

// String returns the URL as a string.
func (u GitURL) String() string { return string(u) }

// IsSSH reports whether the URL uses the SSH transport.
func (u GitURL) IsSSH() bool {
	s := string(u)
	return strings.HasPrefix(s, "ssh://") || (strings.HasPrefix(s, "git@") && strings.Contains(s, ":"))
}

// Validate returns an error if the URL uses an unsupported form.
func (u GitURL) Validate() error {
	s := string(u)
	switch {
	case s == "":
		return &InvalidSourceError{Value: s, Reason: "empty"}
	case strings.HasPrefix(s, "git@"):
		if !strings.Contains(s, ":") {
			return &InvalidSourceError{Value: s, Reason: "scp-like URL needs host:path"}
		}
		return nil
	case strings.HasPrefix(s, "/"):
		// Plain paths are local repositories.
		return nil
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return &InvalidSourceError{Value: s, Reason: err.Error()}
	}
	switch parsed.Scheme {
	case "https", "http", "ssh", "git", "file":
	default:
		return &InvalidSourceError{Value: s, Reason: "unsupported scheme " + parsed.Scheme}
	}
	if parsed.Scheme != "file" && parsed.Host == "" {
		return &InvalidSourceError{Value: s, Reason: "missing host"}
	}
	return nil
}

// ExpandSource turns a manifest source into a git URL. "github:owner/repo"
// expands to https://github.com/owner/repo.git; other values must already be
// git URLs.
func ExpandSource(source string) (GitURL, error) {
	s := strings.TrimSpace(source)
	if strings.HasPrefix(s, "github:") {
		m := githubShorthandRegex.FindStringSubmatch(s)
		if m == nil {
			return "", &InvalidSourceError{Value: source, Reason: "want github:owner/repo"}
		}
		return GitURL("https://github.com/" + m[1] + "/" + m[2] + ".git"), nil
	}
	u := GitURL(s)
	if err := u.Validate(); err != nil {
		return "", err
	}
	return u, nil
}
