// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package store

import "context"

// keyLock is a no-op outside Linux; stage-then-rename alone keeps installs
// atomic there.
type keyLock struct{}

func acquireKeyLock(ctx context.Context, _, _ string) (*keyLock, error) {
	return &keyLock{}, ctx.Err()
}

// Release is a no-op.
func (l *keyLock) Release() {}
