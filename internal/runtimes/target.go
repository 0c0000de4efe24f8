// SPDX-License-Identifier: MPL-2.0

package runtimes

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// Supported targets.
const (
	LinuxX86_64    Target = "linux-x86_64"
	LinuxAarch64   Target = "linux-aarch64"
	MacosX86_64    Target = "macos-x86_64"
	MacosAarch64   Target = "macos-aarch64"
	WindowsX86_64  Target = "windows-x86_64"
	WindowsAarch64 Target = "windows-aarch64"
)

// ErrUnsupportedTarget is the sentinel error wrapped by UnsupportedTargetError.
var ErrUnsupportedTarget = errors.New("unsupported target")

type (
	// Target names an os-arch pair in the runtime's release naming.
	Target string

	// UnsupportedTargetError reports a target that is unknown or has no
	// runtime available.
	UnsupportedTargetError struct {
		Target Target
		Reason string
	}
)

// Error implements the error interface.
func (e *UnsupportedTargetError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported target %q (supported: %s)", e.Target, strings.Join(targetNames(), ", "))
	}
	return fmt.Sprintf("target %s: %s", e.Target, e.Reason)
}

// Unwrap returns ErrUnsupportedTarget for errors.Is() compatibility.
func (e *UnsupportedTargetError) Unwrap() error { return ErrUnsupportedTarget }

// Targets returns every supported target.
func Targets() []Target {
	return []Target{LinuxX86_64, LinuxAarch64, MacosX86_64, MacosAarch64, WindowsX86_64, WindowsAarch64}
}

func targetNames() []string {
	var names []string
	for _, t := range Targets() {
		names = append(names, string(t))
	}
	return names
}

// ParseTarget validates s. Go-style names such as "linux/amd64" and
// "darwin-arm64" are accepted as well.
func ParseTarget(s string) (Target, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if goos, goarch, ok := strings.Cut(strings.ReplaceAll(s, "/", "-"), "-"); ok {
		if t, ok := fromGo(goos, goarch); ok {
			return t, nil
		}
	}
	t := Target(s)
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// HostTarget returns the target of the running process.
func HostTarget() (Target, error) {
	if t, ok := fromGo(runtime.GOOS, runtime.GOARCH); ok {
		return t, nil
	}
	return "", &UnsupportedTargetError{Target: Target(runtime.GOOS + "-" + runtime.GOARCH)}
}

func fromGo(goos, goarch string) (Target, bool) {
	switch goos {
	case "darwin":
		goos = "macos"
	case "linux", "macos", "windows":
	default:
		return "", false
	}
	switch goarch {
	case "amd64", "x86_64":
		goarch = "x86_64"
	case "arm64", "aarch64":
		goarch = "aarch64"
	default:
		return "", false
	}
	return Target(goos + "-" + goarch), true
}

// Validate returns an error if t is not a supported target.
func (t Target) Validate() error {
	if slices.Contains(Targets(), t) {
		return nil
	}
	return &UnsupportedTargetError{Target: t}
}

// OS returns the operating system part of t.
func (t Target) OS() string {
	os, _, _ := strings.Cut(string(t), "-")
	return os
}

// BinaryName is the runtime executable file name on t.
func (t Target) BinaryName() string {
	if t.OS() == "windows" {
		return "lune.exe"
	}
	return "lune"
}

func (t Target) String() string { return string(t) }
