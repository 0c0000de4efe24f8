// SPDX-License-Identifier: MPL-2.0

// Package registry answers three questions about a named package: where its
// source lives (Describe), which versions exist (ListVersions), and what a
// version contains (FetchSource).
//
// The catalog maps package names to git repositories; versions are the
// repository's semver tags. GitClient implements Client with go-git and keeps
// no state beyond the lifetime of one value. Retrying adds bounded retries for
// transient failures to any Client.
package registry
