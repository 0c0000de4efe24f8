// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/semver"
)

type (
	// RetryPolicy bounds how Retrying retries transient failures.
	RetryPolicy struct {
		// MaxAttempts counts the first try. Values below 1 mean 1.
		MaxAttempts int
		// BaseBackoff is the wait before the second attempt; it doubles after
		// every further failure up to MaxBackoff.
		BaseBackoff time.Duration
		MaxBackoff  time.Duration
		// RequestTimeout bounds each attempt. Zero disables it.
		RequestTimeout time.Duration
		Logger         *slog.Logger
	}

	retryingClient struct {
		inner  Client
		policy RetryPolicy
	}

	// cancelOnClose releases a per-attempt context once the stream is done.
	cancelOnClose struct {
		io.ReadCloser
		cancel context.CancelFunc
	}
)

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseBackoff:    250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		RequestTimeout: 2 * time.Minute,
	}
}

// Retrying wraps c so that calls failing with ErrRegistryUnreachable are
// retried under policy. Other errors are returned immediately.
func Retrying(c Client, policy RetryPolicy) Client {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Logger == nil {
		policy.Logger = slog.Default()
	}
	return &retryingClient{inner: c, policy: policy}
}

// Backoff returns the wait before attempt n (n >= 1 is the first retry).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseBackoff <= 0 {
		return 0
	}
	d := p.BaseBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func (r *retryingClient) Describe(ctx context.Context, name manifest.PackageName) (*Descriptor, error) {
	var out *Descriptor
	err := r.do(ctx, "describe", name, func(ctx context.Context) error {
		d, err := r.inner.Describe(ctx, name)
		out = d
		return err
	})
	return out, err
}

func (r *retryingClient) ListVersions(ctx context.Context, name manifest.PackageName) ([]semver.Version, error) {
	var out []semver.Version
	err := r.do(ctx, "list versions", name, func(ctx context.Context) error {
		vs, err := r.inner.ListVersions(ctx, name)
		out = vs
		return err
	})
	return out, err
}

// FetchSource keeps the attempt context alive until the stream is closed.
func (r *retryingClient) FetchSource(ctx context.Context, name manifest.PackageName, version semver.Version) (io.ReadCloser, error) {
	var out io.ReadCloser
	err := r.retry(ctx, "fetch", name, func() error {
		attemptCtx, cancel := r.attemptContext(ctx)
		rc, err := r.inner.FetchSource(attemptCtx, name, version)
		if err != nil {
			cancel()
			return err
		}
		out = &cancelOnClose{ReadCloser: rc, cancel: cancel}
		return nil
	})
	return out, err
}

// Commit implements CommitResolver when the wrapped client does.
func (r *retryingClient) Commit(ctx context.Context, name manifest.PackageName, version semver.Version) (string, error) {
	cr, ok := r.inner.(CommitResolver)
	if !ok {
		return "", nil
	}
	var out string
	err := r.do(ctx, "resolve commit", name, func(ctx context.Context) error {
		c, err := cr.Commit(ctx, name, version)
		out = c
		return err
	})
	return out, err
}

func (r *retryingClient) do(ctx context.Context, op string, name manifest.PackageName, fn func(context.Context) error) error {
	return r.retry(ctx, op, name, func() error {
		attemptCtx, cancel := r.attemptContext(ctx)
		defer cancel()
		return fn(attemptCtx)
	})
}

func (r *retryingClient) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.policy.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.policy.RequestTimeout)
}

func (r *retryingClient) retry(ctx context.Context, op string, name manifest.PackageName, attempt func() error) error {
	var lastErr error
	for n := range r.policy.MaxAttempts {
		if n > 0 {
			wait := r.policy.Backoff(n)
			r.policy.Logger.Debug("retrying registry call", "op", op, "package", name, "attempt", n+1, "wait", wait, "error", lastErr)
			if err := sleep(ctx, wait); err != nil {
				return fmt.Errorf("retry aborted: %w", err)
			}
		}

		err := attempt()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		// A per-attempt timeout is a transport failure, not a caller cancellation.
		if errors.Is(err, context.DeadlineExceeded) {
			err = unreachable(err)
		}
		if !errors.Is(err, ErrRegistryUnreachable) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
