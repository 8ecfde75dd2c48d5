package lifecycle_test

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tunedl/lifecycle"
)

func newRegistry(t *testing.T, ttl time.Duration) *lifecycle.Registry {
	t.Helper()

	r, err := lifecycle.NewRegistry(zerolog.Nop(), t.TempDir(), ttl)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	return r
}

func writeJobFile(t *testing.T, r *lifecycle.Registry, id string) string {
	t.Helper()

	dir := r.JobDir(id)
	require.NoError(t, os.MkdirAll(dir, 0o0700))
	path := filepath.Join(dir, "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o0600))

	return path
}

func TestReleaseRemovesJobDir(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, time.Hour)
	path := writeJobFile(t, r, "job-1")

	var calls atomic.Int32
	h := r.Register("job-1", path, func() { calls.Add(1) })
	assert.Equal(t, path, h.Path())
	assert.Equal(t, "job-1", h.ID())
	assert.Equal(t, 1, r.Len())

	h.Release()

	assert.NoFileExists(t, path)
	assert.NoDirExists(t, filepath.Dir(path))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int32(1), calls.Load())
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, time.Hour)
	path := writeJobFile(t, r, "job-1")

	var calls atomic.Int32
	h := r.Register("job-1", path, func() { calls.Add(1) })

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Release()
		}()
	}
	wg.Wait()
	h.Release()

	assert.Equal(t, int32(1), calls.Load())
	assert.NoDirExists(t, filepath.Dir(path))
}

func TestReleaseOfAlreadyDeletedFile(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, time.Hour)
	path := writeJobFile(t, r, "job-1")
	h := r.Register("job-1", path, nil)

	require.NoError(t, os.RemoveAll(filepath.Dir(path)))

	assert.NotPanics(t, h.Release)
	assert.Equal(t, 0, r.Len())
}

func TestTakeHandsOutOnce(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, time.Hour)
	path := writeJobFile(t, r, "job-1")
	r.Register("job-1", path, nil)

	h, ok := r.Take("job-1")
	require.True(t, ok)
	assert.Equal(t, path, h.Path())

	_, ok = r.Take("job-1")
	assert.False(t, ok)

	assert.Equal(t, 1, r.Len(), "a taken handle stays registered until released")

	h.Release()
	assert.Zero(t, r.Len())

	_, ok = r.Take("job-1")
	assert.False(t, ok)
}

func TestTakeUnknown(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, time.Hour)

	_, ok := r.Take("nope")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, 30*time.Millisecond)
	path := writeJobFile(t, r, "job-1")

	released := make(chan struct{})
	r.Register("job-1", path, func() { close(released) })

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("file was not released after its ttl")
	}

	assert.NoFileExists(t, path)
	_, ok := r.Take("job-1")
	assert.False(t, ok)
}

func TestTakenHandleDoesNotExpire(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, 30*time.Millisecond)
	path := writeJobFile(t, r, "job-1")
	r.Register("job-1", path, nil)

	h, ok := r.Take("job-1")
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.FileExists(t, path)

	h.Release()
	assert.NoFileExists(t, path)
}

func TestSweepRemovesOrphans(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, time.Hour)
	live := writeJobFile(t, r, "live")
	r.Register("live", live, nil)
	orphan := writeJobFile(t, r, "orphan")

	removed, err := r.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, live)
}

func TestCloseReleasesEverything(t *testing.T) {
	t.Parallel()

	r, err := lifecycle.NewRegistry(zerolog.Nop(), t.TempDir(), time.Hour)
	require.NoError(t, err)

	a := writeJobFile(t, r, "a")
	b := writeJobFile(t, r, "b")
	r.Register("a", a, nil)
	r.Register("b", b, nil)
	_, ok := r.Take("b")
	require.True(t, ok)

	r.Close()

	assert.NoFileExists(t, a)
	assert.NoFileExists(t, b)
	assert.Equal(t, 0, r.Len())

	late := writeJobFile(t, r, "late")
	released := make(chan struct{})
	r.Register("late", late, func() { close(released) })

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("file registered after close was not released")
	}
}

func TestJobDirRejectsTraversal(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, time.Hour)

	assert.Panics(t, func() { r.JobDir("../x") })
	assert.Panics(t, func() { r.JobDir("") })
	assert.Panics(t, func() { r.Register("a", filepath.Join(r.Root(), "b", "song.mp3"), nil) })
}
