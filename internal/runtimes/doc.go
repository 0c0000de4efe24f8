// SPDX-License-Identifier: MPL-2.0

// Package runtimes locates or downloads the Lune runtime executable that
// bundles are appended to, one per target platform.
package runtimes
