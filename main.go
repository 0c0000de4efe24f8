// SPDX-License-Identifier: MPL-2.0

// lunekit is a package manager and standalone-executable builder for lune
// projects.
package main

import cmd "github.com/lunekit/lunekit/cmd/lunekit"

func main() {
	cmd.Execute()
}
