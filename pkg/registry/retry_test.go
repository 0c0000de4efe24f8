// SPDX-License-Identifier: MPL-2.0

package registry_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/registry"
	"github.com/lunekit/lunekit/pkg/registry/registrytest"
	"github.com/lunekit/lunekit/pkg/semver"
)

func fastPolicy(attempts int) registry.RetryPolicy {
	return registry.RetryPolicy{MaxAttempts: attempts, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetryingRecoversFromTransientFailures(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().Add("lib", "1.0.0", registrytest.Files{"init.luau": "return 1"})
	var calls atomic.Int64
	fake.FetchHook = func(manifest.PackageName, semver.Version) error {
		if calls.Add(1) < 3 {
			return fmt.Errorf("%w: connection reset", registry.ErrRegistryUnreachable)
		}
		return nil
	}

	c := registry.Retrying(fake, fastPolicy(3))
	rc, err := c.FetchSource(context.Background(), "lib", semver.MustParse("1.0.0"))
	if err != nil {
		t.Fatalf("FetchSource() error: %v", err)
	}
	if _, err := io.ReadAll(rc); err != nil {
		t.Errorf("stream read after retry failed: %v", err)
	}
	_ = rc.Close()
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
}

func TestRetryingGivesUp(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().Add("lib", "1.0.0", nil)
	var calls atomic.Int64
	fake.FetchHook = func(manifest.PackageName, semver.Version) error {
		calls.Add(1)
		return fmt.Errorf("%w: down", registry.ErrRegistryUnreachable)
	}

	_, err := registry.Retrying(fake, fastPolicy(4)).FetchSource(context.Background(), "lib", semver.MustParse("1.0.0"))
	if !errors.Is(err, registry.ErrRegistryUnreachable) {
		t.Errorf("error = %v, want ErrRegistryUnreachable", err)
	}
	if calls.Load() != 4 {
		t.Errorf("attempts = %d, want 4", calls.Load())
	}
}

func TestRetryingDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().Add("lib", "1.0.0", nil)
	c := registry.Retrying(fake, fastPolicy(5))
	ctx := context.Background()

	if _, err := c.ListVersions(ctx, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("ListVersions(missing) = %v", err)
	}
	if fake.Lists.Load() != 1 {
		t.Errorf("NotFound was retried: %d calls", fake.Lists.Load())
	}

	if _, err := c.FetchSource(ctx, "lib", semver.MustParse("9.9.9")); !errors.Is(err, registry.ErrVersionGone) {
		t.Errorf("FetchSource(gone) = %v", err)
	}
	if fake.Fetches.Load() != 1 {
		t.Errorf("VersionGone was retried: %d calls", fake.Fetches.Load())
	}
}

func TestRetryingRequestTimeout(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().Add("lib", "1.0.0", nil)
	fake.ListDelay = time.Second

	policy := fastPolicy(2)
	policy.RequestTimeout = 5 * time.Millisecond
	_, err := registry.Retrying(fake, policy).ListVersions(context.Background(), "lib")
	if !errors.Is(err, registry.ErrRegistryUnreachable) {
		t.Errorf("error = %v, want ErrRegistryUnreachable after timeouts", err)
	}
	if fake.Lists.Load() != 2 {
		t.Errorf("attempts = %d, want 2", fake.Lists.Load())
	}
}

func TestRetryingHonoursCancellation(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().Add("lib", "1.0.0", nil)
	fake.FetchHook = func(manifest.PackageName, semver.Version) error {
		return fmt.Errorf("%w: down", registry.ErrRegistryUnreachable)
	}

	ctx, cancel := context.WithCancel(context.Background())
	policy := registry.RetryPolicy{MaxAttempts: 10, BaseBackoff: time.Hour}
	done := make(chan error, 1)
	go func() {
		_, err := registry.Retrying(fake, policy).FetchSource(ctx, "lib", semver.MustParse("1.0.0"))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("backoff did not observe cancellation")
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := registry.RetryPolicy{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for n, w := range want {
		if got := p.Backoff(n); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", n, got, w)
		}
	}
}
