// SPDX-License-Identifier: MPL-2.0

// Package project runs the lunekit pipeline for one project directory. It
// wires the manifest, resolver, registry client, package store, module graph
// and bundle builder together and owns every write to the project's
// lunekit.toml, lunekit.lock.cue and .luaurc.
package project
