// SPDX-License-Identifier: MPL-2.0

// Package config handles lunekit configuration using Viper with CUE as the
// file format.
//
// Configuration is loaded from <config-dir>/lunekit/config.cue (XDG on Linux,
// ~/Library/Application Support on macOS, %APPDATA% on Windows) or from an
// explicit path, validated against the embedded #Config schema, and
// overridden by LUNEKIT_* environment variables (dots become underscores,
// so retry.attempts is LUNEKIT_RETRY_ATTEMPTS).
package config
