// SPDX-License-Identifier: MPL-2.0

// Package testutil holds helpers shared by lunekit tests: environment
// overrides that restore themselves and a manually advanced clock for code
// that ages files.
package testutil
