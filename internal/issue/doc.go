// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown guidance
// per error category, rendered for the terminal with glamour.
package issue
