// SPDX-License-Identifier: MPL-2.0

// Package modgraph discovers the Luau modules reachable from an entry file.
//
// Require calls are extracted with a tree-sitter Lua parser. Sources that use
// Luau-only syntax the Lua grammar rejects fall back to a lexical scan. Each
// require is resolved against the project tree, the locked packages in the
// store and the manifest aliases; the result is a Graph in DFS discovery
// order together with any diagnostics.
package modgraph
