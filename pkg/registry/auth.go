// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

type (
	// AuthProvider picks git credentials for a repository URL.
	AuthProvider func(GitURL) transport.AuthMethod

	tokenSource struct {
		env      string
		username string
	}
)

// tokenSources are checked in order for HTTPS remotes.
var tokenSources = []tokenSource{
	{env: "GITHUB_TOKEN", username: "x-access-token"},
	{env: "GITLAB_TOKEN", username: "gitlab-ci-token"},
	{env: "GIT_TOKEN", username: "git"},
}

// EnvAuth is the default AuthProvider: SSH keys from ~/.ssh for SSH URLs and
// a token from GITHUB_TOKEN, GITLAB_TOKEN or GIT_TOKEN for HTTPS URLs.
// Other URLs get no credentials.
func EnvAuth(u GitURL) transport.AuthMethod {
	if u.IsSSH() {
		return sshKeyAuth()
	}
	if strings.HasPrefix(string(u), "https://") {
		return tokenAuth(os.Getenv)
	}
	return nil
}

// NoAuth never sends credentials.
func NoAuth(GitURL) transport.AuthMethod { return nil }

func sshKeyAuth() transport.AuthMethod {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	for _, key := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		keyPath := filepath.Join(homeDir, ".ssh", key)
		if _, err := os.Stat(keyPath); err != nil {
			continue
		}
		if auth, err := ssh.NewPublicKeysFromFile("git", keyPath, ""); err == nil {
			return auth
		}
	}
	return nil
}

func tokenAuth(getenv func(string) string) transport.AuthMethod {
	for _, src := range tokenSources {
		if token := getenv(src.env); token != "" {
			return &http.BasicAuth{Username: src.username, Password: token}
		}
	}
	return nil
}
