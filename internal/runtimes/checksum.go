// SPDX-License-Identifier: MPL-2.0

package runtimes

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrChecksumMismatch is returned when a download does not match its
	// published checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	errNoChecksum = errors.New("asset not listed in checksums")
)

// ChecksumError reports a download whose sha256 differs from checksums.txt.
type ChecksumError struct {
	Filename string
	Expected string
	Got      string
}

// Error implements the error interface.
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s: expected %s, got %s", e.Filename, e.Expected, e.Got)
}

// Unwrap returns ErrChecksumMismatch for errors.Is() compatibility.
func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// parseChecksums reads sha256sum output ("<hex>  <file>", an optional '*'
// marking binary mode) into file -> lowercase hex.
func parseChecksums(r io.Reader) (map[string]string, error) {
	sums := map[string]string{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 || !isHexHash(fields[0]) {
			continue
		}
		sums[strings.TrimPrefix(fields[1], "*")] = strings.ToLower(fields[0])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading checksums: %w", err)
	}
	return sums, nil
}

func isHexHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
