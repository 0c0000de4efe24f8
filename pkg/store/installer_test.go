// SPDX-License-Identifier: MPL-2.0

package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lunekit/lunekit/internal/testutil"
	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/registry"
	"github.com/lunekit/lunekit/pkg/registry/registrytest"
	"github.com/lunekit/lunekit/pkg/semver"
)

const zeroFingerprint = manifest.Fingerprint("sha256:0000000000000000000000000000000000000000000000000000000000000000")

var greetFiles = registrytest.Files{
	"init.luau":     "return require(\"./util\")\n",
	"util.luau":     "return { hello = true }\n",
	"lunekit.toml":  "name = \"greet\"\n",
	"lib/deep.luau": "return 1\n",
}

func fingerprintOf(t *testing.T, files registrytest.Files) manifest.Fingerprint {
	t.Helper()
	data, err := registrytest.Tar(files)
	if err != nil {
		t.Fatal(err)
	}
	fp, err := registry.FingerprintTar(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return fp
}

func lockOf(entries ...manifest.LockEntry) *manifest.Lockfile {
	l := &manifest.Lockfile{Version: manifest.LockFormatVersion, Packages: entries}
	l.Sort()
	return l
}

func newInstaller(t *testing.T, client registry.Client) *Installer {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &Installer{Store: s, Client: client}
}

func TestInstall_FetchesAndCaches(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().Add("greet", "1.2.0", greetFiles)
	inst := newInstaller(t, fake)
	entry := manifest.LockEntry{Name: "greet", Version: semver.MustParse("1.2.0"), Fingerprint: fingerprintOf(t, greetFiles)}
	lock := lockOf(entry)

	res, err := inst.Install(context.Background(), lock)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if res.Fetched != 1 || res.Cached != 0 {
		t.Errorf("first install fetched=%d cached=%d, want 1/0", res.Fetched, res.Cached)
	}
	dir := res.Paths["greet"]
	if dir != inst.Store.Path(entry) {
		t.Errorf("path = %s, want %s", dir, inst.Store.Path(entry))
	}
	got, err := os.ReadFile(filepath.Join(dir, "lib", "deep.luau"))
	if err != nil || string(got) != "return 1\n" {
		t.Errorf("lib/deep.luau = %q, %v", got, err)
	}

	res, err = inst.Install(context.Background(), lock)
	if err != nil {
		t.Fatalf("second Install() error = %v", err)
	}
	if res.Fetched != 0 || res.Cached != 1 {
		t.Errorf("second install fetched=%d cached=%d, want 0/1", res.Fetched, res.Cached)
	}
	if n := fake.Fetches.Load(); n != 1 {
		t.Errorf("registry fetches = %d, want 1", n)
	}
}

func TestInstall_UnpinnedFetchesTwice(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().Add("greet", "1.2.0", greetFiles)
	inst := newInstaller(t, fake)
	lock := lockOf(manifest.LockEntry{Name: "greet", Version: semver.MustParse("1.2.0")})

	res, err := inst.Install(context.Background(), lock)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if n := fake.Fetches.Load(); n != 2 {
		t.Errorf("registry fetches = %d, want 2", n)
	}
	if got, want := res.Fingerprints["greet"], fingerprintOf(t, greetFiles); got != want {
		t.Errorf("fingerprint = %s, want %s", got, want)
	}
}

func TestInstall_FingerprintMismatch(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().Add("greet", "1.2.0", greetFiles)
	inst := newInstaller(t, fake)
	lock := lockOf(manifest.LockEntry{Name: "greet", Version: semver.MustParse("1.2.0"), Fingerprint: zeroFingerprint})

	_, err := inst.Install(context.Background(), lock)
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("Install() error = %v, want ErrFingerprintMismatch", err)
	}
	if !errors.Is(err, ErrInstall) {
		t.Errorf("error %v does not wrap ErrInstall", err)
	}
	var fpErr *FingerprintError
	if !errors.As(err, &fpErr) || fpErr.Expected != zeroFingerprint {
		t.Errorf("FingerprintError = %+v", fpErr)
	}
	assertEmptyStore(t, inst.Store)
}

func TestInstall_UnavailableVersion(t *testing.T) {
	t.Parallel()

	inst := newInstaller(t, registrytest.New())
	lock := lockOf(manifest.LockEntry{Name: "gone", Version: semver.MustParse("0.1.0"), Fingerprint: zeroFingerprint})

	_, err := inst.Install(context.Background(), lock)
	if !errors.Is(err, registry.ErrVersionGone) {
		t.Fatalf("Install() error = %v, want ErrVersionGone", err)
	}
	var ie *InstallError
	if !errors.As(err, &ie) || ie.Name != "gone" {
		t.Errorf("InstallError = %+v", ie)
	}
}

// truncatingClient cuts every archive short so extraction fails midway.
type truncatingClient struct {
	*registrytest.Fake
}

func (c truncatingClient) FetchSource(ctx context.Context, name manifest.PackageName, v semver.Version) (io.ReadCloser, error) {
	rc, err := c.Fake.FetchSource(ctx, name, v)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data[:700])), nil
}

func TestInstall_FailedFetchLeavesNothing(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().Add("greet", "1.2.0", greetFiles)
	inst := newInstaller(t, truncatingClient{fake})
	entry := manifest.LockEntry{Name: "greet", Version: semver.MustParse("1.2.0"), Fingerprint: fingerprintOf(t, greetFiles)}

	if _, err := inst.Install(context.Background(), lockOf(entry)); err == nil {
		t.Fatal("Install() succeeded on a truncated archive")
	}
	if _, ok := inst.Store.Lookup(entry); ok {
		t.Error("partial entry visible in store")
	}
	assertEmptyStore(t, inst.Store)

	// Nothing left behind blocks a later install from a healthy registry.
	inst.Client = fake
	if _, err := inst.Install(context.Background(), lockOf(entry)); err != nil {
		t.Fatalf("Install() after a failed fetch: %v", err)
	}
	if _, ok := inst.Store.Lookup(entry); !ok {
		t.Error("entry missing after a successful reinstall")
	}
}

func TestInstall_ConcurrentCallsShareFetch(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().Add("greet", "1.2.0", greetFiles)
	fake.FetchHook = func(manifest.PackageName, semver.Version) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	inst := newInstaller(t, fake)
	lock := lockOf(manifest.LockEntry{Name: "greet", Version: semver.MustParse("1.2.0"), Fingerprint: fingerprintOf(t, greetFiles)})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inst.Install(context.Background(), lock)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Install() error = %v", err)
		}
	}
	if n := fake.Fetches.Load(); n != 1 {
		t.Errorf("registry fetches = %d, want 1", n)
	}
}

func TestInstall_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	fake := registrytest.New().Add("greet", "1.2.0", greetFiles)
	var calls atomic.Int64
	fake.FetchHook = func(manifest.PackageName, semver.Version) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil
	}
	inst := newInstaller(t, fake)
	// No pinned fingerprint: the install fetches twice, and the second fetch
	// runs after the first caller is gone.
	lock := lockOf(manifest.LockEntry{Name: "greet", Version: semver.MustParse("1.2.0")})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := inst.Install(ctx, lock)
		first <- err
	}()
	<-entered

	second := make(chan error, 1)
	go func() {
		_, err := inst.Install(context.Background(), lock)
		second <- err
	}()
	time.Sleep(50 * time.Millisecond) // let the second caller join the fetch

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Install() error = %v, want context.Canceled", err)
	}
	close(release)
	if err := <-second; err != nil {
		t.Fatalf("second Install() error = %v", err)
	}
	if n := fake.Fetches.Load(); n != 2 {
		t.Errorf("registry fetches = %d, want 2", n)
	}
}

func TestInstall_ManyPackages(t *testing.T) {
	t.Parallel()

	fake := registrytest.New()
	var entries []manifest.LockEntry
	for _, name := range []manifest.PackageName{"alpha", "beta", "gamma", "delta"} {
		files := registrytest.Files{"init.luau": "return \"" + string(name) + "\"\n"}
		fake.Add(name, "1.0.0", files)
		entries = append(entries, manifest.LockEntry{Name: name, Version: semver.MustParse("1.0.0"), Fingerprint: fingerprintOf(t, files)})
	}
	inst := newInstaller(t, fake)
	inst.Workers = 2

	res, err := inst.Install(context.Background(), lockOf(entries...))
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if res.Fetched != 4 {
		t.Errorf("fetched = %d, want 4", res.Fetched)
	}
	got, err := inst.Store.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got[0].Name != "alpha" || got[3].Name != "gamma" {
		t.Errorf("Entries() = %+v", got)
	}
}

func TestPrune_RemovesOnlyStaleStaging(t *testing.T) {
	t.Parallel()

	clock := testutil.NewFakeClock(time.Now())
	s, err := Open(t.TempDir(), WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.newStaging("old"); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(StaleStagingAge)
	if err != nil || n != 0 {
		t.Fatalf("Prune() = %d, %v; want 0 before aging", n, err)
	}

	clock.Advance(2 * StaleStagingAge)
	n, err = s.Prune(StaleStagingAge)
	if err != nil || n != 1 {
		t.Fatalf("Prune() = %d, %v; want 1 after aging", n, err)
	}
}

func assertEmptyStore(t *testing.T, s *Store) {
	t.Helper()
	entries, err := s.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("store entries = %+v, want none", entries)
	}
	staging, _ := os.ReadDir(filepath.Join(s.Root(), stagingDirName))
	if len(staging) != 0 {
		t.Errorf("staging left behind: %d entries", len(staging))
	}
}
