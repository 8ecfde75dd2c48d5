package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/xeptore/tunedl/cache"
	"github.com/xeptore/tunedl/config"
	"github.com/xeptore/tunedl/httputil"
	"github.com/xeptore/tunedl/ratelimit"
)

var (
	ErrNoMatch         = errors.New("no catalog match")
	ErrTooManyRequests = errors.New("too many requests")
)

// RateLimitedError is returned by providers when the catalog asks the client
// to slow down. It matches ErrTooManyRequests.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
	}

	return "too many requests"
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrTooManyRequests
}

// Metadata is what gets embedded into a delivered file. Nil Artist, Album and
// CoverArt mean the catalog did not provide them.
type Metadata struct {
	Artist    *string
	Album     *string
	Title     string
	CoverArt  []byte
	CoverMIME string
	CoverURL  string
}

// Fallback is used whenever the catalog has nothing usable for title.
func Fallback(title string) Metadata {
	return Metadata{
		Artist:    nil,
		Album:     nil,
		Title:     title,
		CoverArt:  nil,
		CoverMIME: "",
		CoverURL:  "",
	}
}

// Match is the first-ranked catalog hit for a query.
type Match struct {
	Artist   string
	Album    string
	Title    string
	CoverURL string
}

func (m *Match) metadata(requestedTitle string) Metadata {
	md := Fallback(requestedTitle)
	if m.Artist != "" {
		md.Artist = &m.Artist
	}

	if m.Album != "" {
		md.Album = &m.Album
	}

	if m.Title != "" {
		md.Title = m.Title
	}

	md.CoverURL = m.CoverURL

	return md
}

type Provider interface {
	// Lookup returns ErrNoMatch when the catalog has no track for query.
	Lookup(ctx context.Context, logger zerolog.Logger, query string) (*Match, error)
}

// Query turns a requested title into a catalog search term.
func Query(title string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(title, "_", " ")), " ")
}

type Resolver struct {
	provider      Provider
	client        *http.Client
	cache         *cache.Cache[*Match]
	limiter       *rate.Limiter
	cacheTTL      time.Duration
	lookupTimeout time.Duration
	coverTimeout  time.Duration
	maxCoverSize  int64
	retryBase     time.Duration
}

func New(conf config.Catalog, proxy config.Proxy) (*Resolver, error) {
	client, err := httputil.NewClient(proxy, 0)
	if nil != err {
		return nil, fmt.Errorf("failed to create catalog http client: %v", err)
	}

	var provider Provider
	switch p := conf.Provider; p {
	case config.CatalogProviderITunes:
		provider = NewITunes(client, conf.ITunes)
	case config.CatalogProviderSpotify:
		provider = NewSpotify(client, conf.Spotify)
	default:
		panic("unexpected catalog provider: " + p)
	}

	return NewResolver(provider, client, conf), nil
}

func NewResolver(provider Provider, client *http.Client, conf config.Catalog) *Resolver {
	return &Resolver{
		provider:      provider,
		client:        client,
		cache:         cache.New[*Match](),
		limiter:       ratelimit.NewCatalogLimiter(conf.RequestsPerSecond),
		cacheTTL:      conf.CacheTTL.Duration,
		lookupTimeout: conf.Timeouts.Lookup.Duration,
		coverTimeout:  conf.Timeouts.DownloadCover.Duration,
		maxCoverSize:  conf.MaxCoverSize,
		retryBase:     250 * time.Millisecond,
	}
}

// Resolve never fails to produce usable metadata: on a miss it returns the
// fallback with a nil error, and on a lookup failure it returns the fallback
// together with the error so the caller can log the degradation.
func (r *Resolver) Resolve(ctx context.Context, logger zerolog.Logger, title string) (Metadata, error) {
	query := Query(title)
	if query == "" {
		return Fallback(title), nil
	}

	logger = logger.With().Str("catalog_query", query).Logger()

	match, err := r.cache.Matches.Fetch(ctx, strings.ToLower(query), r.cacheTTL, func(ctx context.Context) (*Match, error) {
		return r.lookup(ctx, logger, query)
	})
	if nil != err {
		logger.Warn().Err(err).Msg("Catalog lookup failed, using fallback metadata")
		return Fallback(title), fmt.Errorf("catalog lookup failed: %w", err)
	}

	if nil == match {
		logger.Info().Msg("No catalog match, using fallback metadata")
		return Fallback(title), nil
	}

	md := match.metadata(title)
	if md.CoverURL != "" {
		art, mime, err := r.cover(ctx, logger, md.CoverURL)
		if nil != err {
			logger.Warn().Err(err).Str("cover_url", md.CoverURL).Msg("Dropping cover art")
		} else {
			md.CoverArt = art
			md.CoverMIME = mime
		}
	}

	logger.Debug().
		Str("artist", match.Artist).
		Str("album", match.Album).
		Str("title", match.Title).
		Bool("has_cover", nil != md.CoverArt).
		Msg("Resolved catalog metadata")

	return md, nil
}

// lookup returns a nil match on a miss so that misses are cached as well.
func (r *Resolver) lookup(ctx context.Context, logger zerolog.Logger, query string) (*Match, error) {
	var match *Match
	err := retry.Do(
		ctx,
		retry.WithMaxRetries(3, retry.NewFibonacci(r.retryBase)),
		func(ctx context.Context) error {
			if err := r.limiter.Wait(ctx); nil != err {
				return err
			}

			lookupCtx, cancel := withOptionalTimeout(ctx, r.lookupTimeout)
			defer cancel()

			m, err := r.provider.Lookup(lookupCtx, logger, query)
			if nil != err {
				if errors.Is(err, ErrNoMatch) {
					match = nil
					return nil
				}

				if rl := (*RateLimitedError)(nil); errors.As(err, &rl) && rl.RetryAfter > 0 {
					logger.Warn().Dur("retry_after", rl.RetryAfter).Msg("Catalog rate limited the lookup")
					if err := sleep(ctx, rl.RetryAfter); nil != err {
						return err
					}
				}

				if errors.Is(err, ErrTooManyRequests) {
					return retry.RetryableError(err)
				}

				if errors.Is(err, context.DeadlineExceeded) && nil == ctx.Err() {
					return retry.RetryableError(err)
				}

				return err
			}

			match = m

			return nil
		},
	)
	if nil != err {
		return nil, err
	}

	return match, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d)
}
