// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride lets tests bypass os.UserHomeDir, which does not honor
// HOME on every platform.
var configDirOverride string

// Reset clears test overrides.
func Reset() {
	configDirOverride = ""
}

// SetConfigDirOverride sets the directory ConfigDir returns. Intended for
// tests.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}
