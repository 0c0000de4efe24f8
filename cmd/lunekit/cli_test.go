// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rogpeppe/go-internal/testscript"

	"github.com/lunekit/lunekit/internal/fsutil"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"lunekit": func() {
			os.Exit(Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
		},
	})
}

// TestCLI runs the scripts in testdata. Each script gets its own store,
// cache and config; the registry is the catalog directory $WORK/catalog and
// runtimes come from $WORK/runtimes.
func TestCLI(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir:   "testdata",
		Setup: setupScript,
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"mkrepo": cmdMkrepo,
		},
		ContinueOnError: true,
	})
}

func setupScript(env *testscript.Env) error {
	work := env.WorkDir
	env.Setenv("HOME", filepath.Join(work, "home"))
	env.Setenv("XDG_CONFIG_HOME", filepath.Join(work, ".config"))
	env.Setenv("XDG_CACHE_HOME", filepath.Join(work, ".cache"))
	env.Setenv("LUNEKIT_STORE_DIR", filepath.Join(work, "store"))
	env.Setenv("LUNEKIT_RETRY_ATTEMPTS", "1")
	env.Setenv("NO_COLOR", "1")

	cfgDir := filepath.Join(work, ".config", "lunekit")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return err
	}
	cfg := "registry: " + quote(filepath.Join(work, "catalog")) + "\n" +
		"runtime: {\n" +
		"\tdir: " + quote(filepath.Join(work, "runtimes")) + "\n" +
		"\trepo: \"\"\n" +
		"\tsearch_path: false\n" +
		"}\n"
	return os.WriteFile(filepath.Join(cfgDir, "config.cue"), []byte(cfg), 0o644)
}

func quote(s string) string {
	b, _ := json.Marshal(filepath.ToSlash(s))
	return string(b)
}

var scriptSignature = object.Signature{Name: "Test", Email: "test@example.com", When: time.Unix(1700000000, 0)}

// cmdMkrepo publishes a package to the catalog:
//
//	mkrepo <name> <tag>=<dir>...
//
// Paths are relative to $WORK. Each <dir> is copied over the working tree
// of $WORK/repos/<name>, committed and tagged. Running it again for a name
// adds releases. The catalog descriptor points at the repository.
func cmdMkrepo(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkrepo")
	}
	if len(args) < 2 {
		ts.Fatalf("usage: mkrepo <name> <tag>=<dir>...")
	}
	name, work := args[0], ts.Getenv("WORK")
	repoDir := filepath.Join(work, "repos", name)
	repo, err := git.PlainOpen(repoDir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(repoDir, false)
	}
	ts.Check(err)
	wt, err := repo.Worktree()
	ts.Check(err)

	for _, arg := range args[1:] {
		tag, dir, ok := strings.Cut(arg, "=")
		if !ok {
			ts.Fatalf("mkrepo: want <tag>=<dir>, got %q", arg)
		}
		ts.Check(fsutil.CopyDir(filepath.Join(work, dir), repoDir))
		ts.Check(wt.AddWithOptions(&git.AddOptions{All: true}))
		sig := scriptSignature
		hash, err := wt.Commit("release "+tag, &git.CommitOptions{Author: &sig})
		ts.Check(err)
		_, err = repo.CreateTag(tag, hash, nil)
		ts.Check(err)
	}

	desc, err := json.Marshal(map[string]string{
		"name":       name,
		"repository": "file://" + filepath.ToSlash(repoDir),
	})
	ts.Check(err)
	catalog := filepath.Join(work, "catalog")
	ts.Check(os.MkdirAll(catalog, 0o755))
	ts.Check(os.WriteFile(filepath.Join(catalog, name+".json"), desc, 0o644))
}
