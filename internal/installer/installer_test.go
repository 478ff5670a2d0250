package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verikit/verikit/internal/backend"
	"github.com/verikit/verikit/internal/catalog"
	"github.com/verikit/verikit/internal/config"
	"github.com/verikit/verikit/internal/logger"
)

var testContent = []byte("#!/bin/sh\necho inspec\n")

type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return []byte("runner output"), r.err
}

func testDescriptor(format catalog.Format) *catalog.Descriptor {
	return &catalog.Descriptor{
		Tool:     "inspec",
		Variant:  config.Variant("ubuntu1804"),
		Version:  "4.18.100",
		Checksum: digest.SHA256.FromBytes(testContent),
		Format:   format,
		Source: &catalog.Source{
			HTTPSConfig: &backend.HTTPSConfig{HTTPSURLTemplate: "https://packages.example.com/{tool}_{version}"},
		},
	}
}

func testInstaller(t *testing.T, runner CommandRunner, fetch func(context.Context, *catalog.Descriptor) ([]byte, error)) *Installer {
	t.Helper()
	i := New(logger.NewTestBuilder(), runner)
	if fetch != nil {
		i.fetch = fetch
	}
	return i
}

func countingFetch(counter *atomic.Int32, content []byte, err error) func(context.Context, *catalog.Descriptor) ([]byte, error) {
	return func(context.Context, *catalog.Descriptor) ([]byte, error) {
		counter.Add(1)
		return content, err
	}
}

func TestEnsureInstalledBinary(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	runner := &recordingRunner{}
	i := testInstaller(t, runner, countingFetch(&fetches, testContent, nil))

	destination := filepath.Join(t.TempDir(), "bin", "inspec")
	tool, err := i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatBinary), destination)
	require.NoError(t, err)
	require.NotNil(t, tool)
	assert.Equal(t, destination, tool.Path)
	assert.Equal(t, digest.SHA256.FromBytes(testContent), tool.Checksum)

	content, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, testContent, content)

	if runtime.GOOS != "windows" {
		fi, statErr := os.Stat(destination)
		require.NoError(t, statErr)
		assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())
	}

	assert.Equal(t, int32(1), fetches.Load())
	assert.Empty(t, runner.calls)
}

func TestEnsureInstalledIdempotent(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	i := testInstaller(t, &recordingRunner{}, countingFetch(&fetches, testContent, nil))

	destination := filepath.Join(t.TempDir(), "inspec")
	require.NoError(t, os.WriteFile(destination, testContent, 0o755))

	tool, err := i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatBinary), destination)
	require.NoError(t, err)
	assert.Equal(t, destination, tool.Path)

	// A destination that already verifies must not trigger any download.
	assert.Equal(t, int32(0), fetches.Load())
}

func TestEnsureInstalledReplacesStaleDestination(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	i := testInstaller(t, &recordingRunner{}, countingFetch(&fetches, testContent, nil))

	destination := filepath.Join(t.TempDir(), "inspec")
	require.NoError(t, os.WriteFile(destination, []byte("an older build"), 0o755))

	_, err := i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatBinary), destination)
	require.NoError(t, err)

	content, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, testContent, content)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestEnsureInstalledIntegrityMismatch(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	i := testInstaller(t, &recordingRunner{}, countingFetch(&fetches, []byte("tampered content"), nil))

	dir := t.TempDir()
	destination := filepath.Join(dir, "inspec")
	tool, err := i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatBinary), destination)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrityMismatch)
	assert.Nil(t, tool)

	// Nothing may be promoted and no staging remnants may be left behind.
	_, err = os.Stat(destination)
	assert.ErrorIs(t, err, os.ErrNotExist)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnsureInstalledTransientNetworkFailure(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	i := testInstaller(t, &recordingRunner{}, countingFetch(&fetches, nil, fmt.Errorf("download failed: %w", backend.ErrTransient)))

	destination := filepath.Join(t.TempDir(), "inspec")
	_, err := i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatBinary), destination)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)

	_, err = os.Stat(destination)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnsureInstalledNotFoundIsNotNetwork(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	i := testInstaller(t, &recordingRunner{}, countingFetch(&fetches, nil, fmt.Errorf("no artifact: %w", backend.ErrNotFound)))

	_, err := i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatBinary), filepath.Join(t.TempDir(), "inspec"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.NotErrorIs(t, err, ErrNetwork)
}

func TestEnsureInstalledPackage(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	runner := &recordingRunner{}
	i := testInstaller(t, runner, countingFetch(&fetches, testContent, nil))

	destination := filepath.Join(t.TempDir(), "inspec_4.18.100.deb")
	tool, err := i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatDeb), destination)
	require.NoError(t, err)
	assert.Equal(t, destination, tool.Path)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"dpkg", "-i", destination}, runner.calls[0])

	// The verified package stays in place so repeat installs can
	// short-circuit on its digest without invoking the package manager.
	tool, err = i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatDeb), destination)
	require.NoError(t, err)
	require.NotNil(t, tool)
	assert.Len(t, runner.calls, 1)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestEnsureInstalledRPMPackage(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	var fetches atomic.Int32
	i := testInstaller(t, runner, countingFetch(&fetches, testContent, nil))

	destination := filepath.Join(t.TempDir(), "inspec_4.18.100.rpm")
	_, err := i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatRPM), destination)
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"rpm", "-U", "--replacepkgs", destination}, runner.calls[0])
}

func TestEnsureInstalledPackageFailure(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{err: errors.New("dependency problems prevent configuration")}
	var fetches atomic.Int32
	i := testInstaller(t, runner, countingFetch(&fetches, testContent, nil))

	_, err := i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatDeb), filepath.Join(t.TempDir(), "inspec.deb"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPackageInstall)
}

func TestEnsureInstalledPropagatesContext(t *testing.T) {
	t.Parallel()

	i := testInstaller(t, &recordingRunner{}, func(ctx context.Context, _ *catalog.Descriptor) ([]byte, error) {
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	destination := filepath.Join(t.TempDir(), "inspec")
	_, err := i.EnsureInstalled(ctx, testDescriptor(catalog.FormatBinary), destination)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(destination)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnsureInstalledConcurrentDestinations(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	i := testInstaller(t, &recordingRunner{}, func(context.Context, *catalog.Descriptor) ([]byte, error) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)
		return testContent, nil
	})

	dir := t.TempDir()
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for idx := range errs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			destination := filepath.Join(dir, fmt.Sprintf("target-%d", idx), "inspec")
			_, errs[idx] = i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatBinary), destination)
		}(idx)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	// Distinct destinations never serialise on each other.
	assert.Equal(t, int32(4), fetches.Load())
}

func TestEnsureInstalledSameDestinationSerialised(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	i := testInstaller(t, &recordingRunner{}, func(context.Context, *catalog.Descriptor) ([]byte, error) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)
		return testContent, nil
	})

	destination := filepath.Join(t.TempDir(), "inspec")
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for idx := range errs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = i.EnsureInstalled(context.Background(), testDescriptor(catalog.FormatBinary), destination)
		}(idx)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	// The loser of the lock race finds the verified artifact in place and
	// does not download again.
	assert.Equal(t, int32(1), fetches.Load())

	content, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, testContent, content)
}

func TestEnsureInstalledEndToEnd(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/inspec_4.18.100", r.URL.Path)
		_, _ = w.Write(testContent)
	}))
	defer srv.Close()

	d := testDescriptor(catalog.FormatBinary)
	d.Source = &catalog.Source{
		HTTPSConfig: &backend.HTTPSConfig{HTTPSURLTemplate: srv.URL + "/{tool}_{version}"},
	}

	i := New(logger.NewTestBuilder(), &recordingRunner{})
	destination := filepath.Join(t.TempDir(), "inspec")
	tool, err := i.EnsureInstalled(context.Background(), d, destination)
	require.NoError(t, err)
	assert.Equal(t, destination, tool.Path)
	assert.Equal(t, int32(1), requests.Load())

	// The second run verifies the existing file and stays off the network.
	_, err = i.EnsureInstalled(context.Background(), d, destination)
	require.NoError(t, err)
	assert.Equal(t, int32(1), requests.Load())
}
