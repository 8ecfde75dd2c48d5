package catalog_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tunedl/catalog"
	"github.com/xeptore/tunedl/config"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 64)...)
)

type fakeProvider struct {
	mux     sync.Mutex
	calls   int
	results []lookupResult
}

type lookupResult struct {
	match *catalog.Match
	err   error
}

func (f *fakeProvider) Lookup(context.Context, zerolog.Logger, string) (*catalog.Match, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	r := f.results[min(f.calls, len(f.results)-1)]
	f.calls++

	return r.match, r.err
}

func (f *fakeProvider) Calls() int {
	f.mux.Lock()
	defer f.mux.Unlock()

	return f.calls
}

func catalogConf() config.Catalog {
	return config.Catalog{
		Provider:          config.CatalogProviderITunes,
		CacheTTL:          config.Duration{Duration: time.Minute},
		RequestsPerSecond: 100,
		MaxCoverSize:      1 << 20,
		Timeouts: config.CatalogTimeouts{
			Lookup:        config.Duration{Duration: time.Second},
			DownloadCover: config.Duration{Duration: time.Second},
		},
	}
}

func coverServer(t *testing.T, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func ptr(s string) *string { return &s }

func TestFallback(t *testing.T) {
	t.Parallel()

	assert.Equal(t, catalog.Metadata{Title: "zzzzqqqq"}, catalog.Fallback("zzzzqqqq"))
}

func TestQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "underscores", in: "here_comes_the_sun", want: "here comes the sun"},
		{name: "spaces collapsed", in: "  here   comes_ the sun ", want: "here comes the sun"},
		{name: "blank", in: " _ ", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, catalog.Query(tc.in))
		})
	}
}

func TestResolveMatchWithCover(t *testing.T) {
	t.Parallel()

	srv, _ := coverServer(t, jpegBytes)
	p := &fakeProvider{results: []lookupResult{{match: &catalog.Match{
		Artist:   "The Beatles",
		Album:    "Abbey Road",
		Title:    "Here Comes the Sun",
		CoverURL: srv.URL + "/cover.jpg",
	}}}}
	r := catalog.NewResolver(p, srv.Client(), catalogConf())

	md, err := r.Resolve(t.Context(), zerolog.Nop(), "here_comes_the_sun")
	require.NoError(t, err)
	assert.Equal(t, ptr("The Beatles"), md.Artist)
	assert.Equal(t, ptr("Abbey Road"), md.Album)
	assert.Equal(t, "Here Comes the Sun", md.Title)
	assert.Equal(t, jpegBytes, md.CoverArt)
	assert.Equal(t, "image/jpeg", md.CoverMIME)
	assert.Equal(t, srv.URL+"/cover.jpg", md.CoverURL)
}

func TestResolveMiss(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{results: []lookupResult{{err: catalog.ErrNoMatch}}}
	r := catalog.NewResolver(p, http.DefaultClient, catalogConf())

	md, err := r.Resolve(t.Context(), zerolog.Nop(), "zzzzqqqq")
	require.NoError(t, err)
	assert.Equal(t, catalog.Fallback("zzzzqqqq"), md)

	_, err = r.Resolve(t.Context(), zerolog.Nop(), "ZZZZqqqq")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Calls(), "misses are cached by normalized query")
}

func TestResolveHardErrorDegrades(t *testing.T) {
	t.Parallel()

	errDown := errors.New("catalog down")
	p := &fakeProvider{results: []lookupResult{{err: errDown}}}
	r := catalog.NewResolver(p, http.DefaultClient, catalogConf())

	md, err := r.Resolve(t.Context(), zerolog.Nop(), "here_comes_the_sun")
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, catalog.Fallback("here_comes_the_sun"), md)
	assert.Equal(t, 1, p.Calls(), "non-transient errors are not retried")

	_, err = r.Resolve(t.Context(), zerolog.Nop(), "here_comes_the_sun")
	require.Error(t, err)
	assert.Equal(t, 2, p.Calls(), "errors are not cached")
}

func TestResolveRetriesRateLimited(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{results: []lookupResult{
		{err: &catalog.RateLimitedError{}},
		{match: &catalog.Match{Artist: "The Beatles", Title: "Here Comes the Sun"}},
	}}
	r := catalog.NewResolver(p, http.DefaultClient, catalogConf())

	md, err := r.Resolve(t.Context(), zerolog.Nop(), "here_comes_the_sun")
	require.NoError(t, err)
	assert.Equal(t, ptr("The Beatles"), md.Artist)
	assert.Nil(t, md.Album)
	assert.Nil(t, md.CoverArt)
	assert.Equal(t, 2, p.Calls())
}

func TestResolveBadCoverIsDropped(t *testing.T) {
	t.Parallel()

	srv, _ := coverServer(t, []byte("<html>not found</html>"))
	p := &fakeProvider{results: []lookupResult{{match: &catalog.Match{
		Artist:   "The Beatles",
		Title:    "Here Comes the Sun",
		CoverURL: srv.URL + "/cover.jpg",
	}}}}
	r := catalog.NewResolver(p, srv.Client(), catalogConf())

	md, err := r.Resolve(t.Context(), zerolog.Nop(), "here_comes_the_sun")
	require.NoError(t, err)
	assert.Equal(t, ptr("The Beatles"), md.Artist)
	assert.Nil(t, md.CoverArt)
	assert.Empty(t, md.CoverMIME)
}

func TestResolveOversizedCoverIsDropped(t *testing.T) {
	t.Parallel()

	srv, _ := coverServer(t, slices.Concat(pngBytes, make([]byte, 2048)))
	p := &fakeProvider{results: []lookupResult{{match: &catalog.Match{
		Title:    "Here Comes the Sun",
		CoverURL: srv.URL + "/cover.png",
	}}}}
	conf := catalogConf()
	conf.MaxCoverSize = 1024
	r := catalog.NewResolver(p, srv.Client(), conf)

	md, err := r.Resolve(t.Context(), zerolog.Nop(), "here_comes_the_sun")
	require.NoError(t, err)
	assert.Nil(t, md.CoverArt)
}

func TestResolveCachesCover(t *testing.T) {
	t.Parallel()

	srv, hits := coverServer(t, pngBytes)
	p := &fakeProvider{results: []lookupResult{{match: &catalog.Match{
		Title:    "Here Comes the Sun",
		CoverURL: srv.URL + "/cover.png",
	}}}}
	r := catalog.NewResolver(p, srv.Client(), catalogConf())

	for range 3 {
		md, err := r.Resolve(t.Context(), zerolog.Nop(), "here_comes_the_sun")
		require.NoError(t, err)
		assert.Equal(t, "image/png", md.CoverMIME)
	}

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, p.Calls())
}

func TestResolveConcurrent(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{results: []lookupResult{{match: &catalog.Match{Artist: "A", Title: "T"}}}}
	r := catalog.NewResolver(p, http.DefaultClient, catalogConf())

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			title := "song"
			if i%2 == 0 {
				title = "other_song"
			}
			md, err := r.Resolve(t.Context(), zerolog.Nop(), title)
			assert.NoError(t, err)
			assert.Equal(t, "T", md.Title)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, p.Calls(), 2)
}

type blockingProvider struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingProvider) Lookup(ctx context.Context, _ zerolog.Logger, _ string) (*catalog.Match, error) {
	p.once.Do(func() { close(p.started) })

	select {
	case <-p.release:
		return &catalog.Match{Artist: "The Beatles", Album: "Abbey Road", Title: "Here Comes the Sun"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestResolveIgnoresCancellationOfOtherRequest(t *testing.T) {
	t.Parallel()

	p := &blockingProvider{started: make(chan struct{}), release: make(chan struct{}), once: sync.Once{}}
	r := catalog.NewResolver(p, http.DefaultClient, catalogConf())

	firstCtx, cancelFirst := context.WithCancel(t.Context())
	firstErr := make(chan error, 1)
	go func() {
		md, err := r.Resolve(firstCtx, zerolog.Nop(), "here_comes_the_sun")
		assert.Equal(t, catalog.Fallback("here_comes_the_sun"), md)
		firstErr <- err
	}()
	<-p.started

	type resolved struct {
		md  catalog.Metadata
		err error
	}
	second := make(chan resolved, 1)
	go func() {
		md, err := r.Resolve(context.Background(), zerolog.Nop(), "here_comes_the_sun")
		second <- resolved{md: md, err: err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(p.release)
	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.md.Artist)
	assert.Equal(t, "The Beatles", *got.md.Artist)
	assert.Equal(t, "Here Comes the Sun", got.md.Title)
}
