// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Error categories. Each has a catalog entry and a CLI exit code.
const (
	NotFound               Category = "not-found"
	RegistryUnreachable    Category = "registry-unreachable"
	VersionGone            Category = "version-gone"
	ConflictingConstraints Category = "conflicting-constraints"
	NoMatchingVersion      Category = "no-matching-version"
	InstallFailed          Category = "install-failed"
	GraphFailed            Category = "graph-error"
	UnsupportedTarget      Category = "unsupported-target"
	InvalidManifest        Category = "invalid-manifest"
)

// ErrUnknownCategory is returned by Lookup for a name not in the catalog.
var ErrUnknownCategory = errors.New("unknown issue category")

type (
	// Category names a class of failure.
	Category string

	// HTTPLink is a documentation URL.
	HTTPLink string

	// Issue is the Markdown guidance for one category.
	Issue struct {
		category Category
		title    string
		mdMsg    string
		links    []HTTPLink
	}
)

// Category returns the issue's category.
func (i *Issue) Category() Category { return i.category }

// Title returns a one-line summary.
func (i *Issue) Title() string { return i.title }

// Markdown returns the guidance text including links.
func (i *Issue) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n%s", i.title, i.mdMsg)
	if len(i.links) > 0 {
		sb.WriteString("\n\n## See also\n")
		for _, l := range i.links {
			fmt.Fprintf(&sb, "- <%s>\n", l)
		}
	}
	return sb.String()
}

// Render formats the guidance for the terminal. stylePath is a glamour
// style name ("auto", "dark", "light", "notty") or a style file.
func (i *Issue) Render(stylePath string) (string, error) {
	return render(i.Markdown(), stylePath)
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (*Issue, error) {
	for _, i := range catalog {
		if string(i.category) == name {
			return i, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownCategory, name, strings.Join(Names(), ", "))
}

// Names lists the catalog's categories in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, i := range catalog {
		names = append(names, string(i.category))
	}
	slices.Sort(names)
	return names
}

var (
	render = glamour.Render

	catalog = []*Issue{
		{
			category: NotFound,
			title:    "Package not found",
			mdMsg: `
The registry has no descriptor for a package named in your manifest.

## Things you can try
- Check the spelling of the dependency name in ` + "`lunekit.toml`" + `.
- Point the dependency at its repository directly:
~~~toml
[dependencies]
mylib = { version = "^1.0", source = "github:owner/mylib" }
~~~
- Check which registry is used: the manifest ` + "`registry`" + ` key wins over the ` + "`registry`" + ` config key.`,
		},
		{
			category: RegistryUnreachable,
			title:    "Registry unreachable",
			mdMsg: `
A registry or git host could not be reached, even after retries.

## Things you can try
- Check your network connection and proxy settings.
- For private repositories set ` + "`GITHUB_TOKEN`" + `, ` + "`GITLAB_TOKEN`" + ` or ` + "`GIT_TOKEN`" + `, or use an SSH source with a loaded key.
- Raise ` + "`retry.attempts`" + ` or ` + "`retry.request_timeout`" + ` in your config for slow hosts.`,
		},
		{
			category: VersionGone,
			title:    "Locked version no longer available",
			mdMsg: `
The lockfile pins a tag that the package repository no longer has.

## Things you can try
- Re-resolve that package:
~~~
$ lunekit update <name>
~~~`,
		},
		{
			category: ConflictingConstraints,
			title:    "Conflicting version constraints",
			mdMsg: `
Two requirements on the same package cannot both be satisfied. The error names
both requirers and their constraints.

## Things you can try
- Relax the constraint in your own manifest if it is one of the two.
- Upgrade the dependency that pins the older range:
~~~
$ lunekit update --bump
~~~`,
		},
		{
			category: NoMatchingVersion,
			title:    "No version satisfies the constraint",
			mdMsg: `
The package exists but none of its tagged versions satisfies the combined
constraint. Prerelease tags only match constraints that name a prerelease.

## Things you can try
- Compare the constraint with the available versions listed in the error.
- Loosen the constraint, for example ` + "`^1.2`" + ` instead of ` + "`1.2.7`" + `.`,
		},
		{
			category: InstallFailed,
			title:    "Install failed",
			mdMsg: `
A package could not be fetched into the store, or its contents differ from the
fingerprint recorded in the lockfile. Nothing partial was left in the store.

## Things you can try
- Retry; transient failures leave no trace.
- A fingerprint mismatch means the tag was moved. Review the change upstream,
  then re-resolve with ` + "`lunekit update <name>`" + `.`,
		},
		{
			category: GraphFailed,
			title:    "Module graph error",
			mdMsg: `
A require could not be resolved, or modules require each other in a cycle at
load time.

## Things you can try
- Check the file and line named in the error, and that the target exists with a
  ` + "`.luau`" + ` or ` + "`.lua`" + ` extension or as ` + "`init.luau`" + ` in a directory.
- Run ` + "`lunekit install`" + ` if the require names a package.
- Break eager cycles by moving one require into the function that uses it.
- Relax the policies with ` + "`graph.cycles`" + ` and ` + "`graph.unresolved`" + ` in your config.`,
		},
		{
			category: UnsupportedTarget,
			title:    "Unsupported target",
			mdMsg: `
No runtime executable is available for the requested target.

Supported targets: ` + "`linux-x86_64`, `linux-aarch64`, `macos-x86_64`, `macos-aarch64`, `windows-x86_64`, `windows-aarch64`" + `.

## Things you can try
- Place a runtime at ` + "`<runtime.dir>/<target>/lune`" + `.
- Set ` + "`runtime.repo`" + ` and ` + "`runtime.version`" + ` so lunekit can download one.`,
		},
		{
			category: InvalidManifest,
			title:    "Invalid manifest or lockfile",
			mdMsg: `
` + "`lunekit.toml`" + ` or ` + "`lunekit.lock.cue`" + ` could not be read or failed validation.

## Things you can try
- Fix the field named in the error.
- Delete ` + "`lunekit.lock.cue`" + ` and run ` + "`lunekit install`" + ` to regenerate it.`,
		},
	}
)
