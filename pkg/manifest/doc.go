// SPDX-License-Identifier: MPL-2.0

// Package manifest owns the project files lunekit reads and writes: the
// user-authored lunekit.toml, the generated lunekit.lock.cue, and the require
// aliases in .luaurc.
package manifest
