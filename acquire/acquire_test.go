package acquire_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tunedl/acquire"
	"github.com/xeptore/tunedl/audiotest"
	"github.com/xeptore/tunedl/config"
)

type fakeFetcher struct {
	err   error
	block bool
}

func (f fakeFetcher) Fetch(ctx context.Context, _ zerolog.Logger, _, dest string) error {
	if err := os.WriteFile(dest, []byte("webm-ish bytes"), 0o0600); nil != err {
		return err
	}

	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}

	return f.err
}

type fakeTranscoder struct {
	output []byte
	err    error
}

func (f fakeTranscoder) Transcode(_ context.Context, _ zerolog.Logger, _, dst string) error {
	if nil != f.output {
		if err := os.WriteFile(dst, f.output, 0o0600); nil != err {
			return err
		}
	}

	return f.err
}

var timeouts = config.AcquireTimeouts{
	Fetch:     config.Duration{Duration: time.Second},
	Transcode: config.Duration{Duration: time.Second},
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

func TestAcquire(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := acquire.NewAcquirer(fakeFetcher{}, fakeTranscoder{output: audiotest.Frames(8)}, timeouts)

	path, err := a.Acquire(t.Context(), zerolog.Nop(), "https://www.youtube.com/watch?v=x", "here_comes_the_sun", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "here_comes_the_sun.mp3"), path)
	assert.Equal(t, []string{"here_comes_the_sun.mp3"}, listDir(t, dir))
}

func TestAcquireCreatesStorageDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "job")
	a := acquire.NewAcquirer(fakeFetcher{}, fakeTranscoder{output: audiotest.Frames(8)}, timeouts)

	path, err := a.Acquire(t.Context(), zerolog.Nop(), "https://www.youtube.com/watch?v=x", "song", dir)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestAcquireFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		fetcher    acquire.Fetcher
		transcoder acquire.Transcoder
		dest       string
	}{
		{
			name:       "fetch fails",
			fetcher:    fakeFetcher{err: errors.New("video unavailable")},
			transcoder: fakeTranscoder{output: audiotest.Frames(8)},
			dest:       "song",
		},
		{
			name:       "transcode fails after partial write",
			fetcher:    fakeFetcher{},
			transcoder: fakeTranscoder{output: []byte{0xFF}, err: errors.New("exit status 1")},
			dest:       "song",
		},
		{
			name:       "transcode writes nothing",
			fetcher:    fakeFetcher{},
			transcoder: fakeTranscoder{},
			dest:       "song",
		},
		{
			name:       "empty output",
			fetcher:    fakeFetcher{},
			transcoder: fakeTranscoder{output: []byte{}},
			dest:       "song",
		},
		{
			name:       "output is not mpeg",
			fetcher:    fakeFetcher{},
			transcoder: fakeTranscoder{output: []byte("<html><body>nope</body></html>")},
			dest:       "song",
		},
		{
			name:       "destination escapes storage dir",
			fetcher:    fakeFetcher{},
			transcoder: fakeTranscoder{output: audiotest.Frames(8)},
			dest:       "../song",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			a := acquire.NewAcquirer(tc.fetcher, tc.transcoder, timeouts)

			path, err := a.Acquire(t.Context(), zerolog.Nop(), "https://www.youtube.com/watch?v=x", tc.dest, dir)
			require.ErrorIs(t, err, acquire.ErrAcquisitionFailed)
			assert.Empty(t, path)
			assert.Empty(t, listDir(t, dir), "no files left behind")
		})
	}
}

func TestAcquireFetchTimeout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	short := config.AcquireTimeouts{
		Fetch:     config.Duration{Duration: 20 * time.Millisecond},
		Transcode: config.Duration{Duration: time.Second},
	}
	a := acquire.NewAcquirer(fakeFetcher{block: true}, fakeTranscoder{output: audiotest.Frames(8)}, short)

	_, err := a.Acquire(t.Context(), zerolog.Nop(), "https://www.youtube.com/watch?v=x", "song", dir)
	require.ErrorIs(t, err, acquire.ErrAcquisitionFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, listDir(t, dir))
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already safe", in: "here_comes_the_sun", want: "here_comes_the_sun"},
		{name: "spaces and punctuation", in: "Here Comes The Sun (Remastered)", want: "Here_Comes_The_Sun__Remastered_"},
		{name: "path traversal", in: "../../etc/passwd", want: "_.._etc_passwd"},
		{name: "hidden", in: ".bashrc", want: "bashrc"},
		{name: "unicode", in: "Sigur Rós", want: "Sigur_R_s"},
		{name: "empty", in: "", want: "track"},
		{name: "only symbols", in: "???", want: "track"},
		{name: "surrounding whitespace", in: "  song  ", want: "song"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, acquire.SanitizeName(tc.in))
		})
	}
}

func TestSanitizeNameLength(t *testing.T) {
	t.Parallel()

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}

	assert.Len(t, acquire.SanitizeName(string(long)), 96)
}
