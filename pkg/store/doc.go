// SPDX-License-Identifier: MPL-2.0

// Package store materializes locked packages on disk.
//
// Layout under the store root:
//
//	<name>/<version>/<fingerprint-hex>/   installed package trees (read-only by convention)
//	.staging/<random>/                    in-progress fetches
//	.locks/<key>.lock                     cross-process advisory locks (Linux)
//
// A package tree only ever appears at its final path through a rename from
// staging, so readers never observe a partial install.
package store
