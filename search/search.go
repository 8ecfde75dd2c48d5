package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/xeptore/tunedl/config"
	"github.com/xeptore/tunedl/iterutil"
)

var (
	ErrEmptyQuery        = errors.New("search query is empty")
	ErrSearchUnavailable = errors.New("search is unavailable")
)

// Candidate is a playable source that has not been downloaded yet.
type Candidate struct {
	Title   string `json:"title"`
	Locator string `json:"url"`
}

type Searcher interface {
	Search(ctx context.Context, logger zerolog.Logger, query string) ([]Candidate, error)
}

// Backend queries an upstream video index. It may return more results than
// requested and results the caller has to filter.
type Backend interface {
	Search(ctx context.Context, logger zerolog.Logger, query string, limit int) ([]Candidate, error)
}

type Service struct {
	backend    Backend
	maxResults int
	timeout    time.Duration
}

func NewService(backend Backend, conf config.Search) *Service {
	return &Service{
		backend:    backend,
		maxResults: min(max(conf.MaxResults, 1), config.MaxSearchResults),
		timeout:    conf.Timeout.Duration,
	}
}

// New builds the backend selected by conf. ytdlpPath is the yt-dlp binary
// used by the ytdlp backend.
func New(conf config.Search, ytdlpPath string) *Service {
	var backend Backend
	switch b := conf.Backend; b {
	case config.SearchBackendYTSearch:
		backend = NewYTSearch()
	case config.SearchBackendYtdlp:
		backend = NewYtdlp(ytdlpPath)
	default:
		panic("unexpected search backend: " + b)
	}

	return NewService(backend, conf)
}

// Search returns at most the configured number of candidates, in upstream
// relevance order.
func (s *Service) Search(ctx context.Context, logger zerolog.Logger, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	logger = logger.With().Str("query", query).Logger()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	results, err := s.backend.Search(ctx, logger, query, s.maxResults)
	if nil != err {
		logger.Error().Err(err).Msg("Search backend failed")
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}

	valid := lo.Filter(results, func(c Candidate, _ int) bool { return isValid(c) })
	unique := lo.UniqBy(valid, func(c Candidate) string { return c.Locator })
	out := iterutil.Take(unique, s.maxResults)

	logger.Debug().Int("upstream", len(results)).Int("returned", len(out)).Msg("Search completed")

	return out, nil
}

func isValid(c Candidate) bool {
	if strings.TrimSpace(c.Title) == "" {
		return false
	}

	return IsLocator(c.Locator)
}

// IsLocator reports whether s is an absolute http(s) URL.
func IsLocator(s string) bool {
	u, err := url.Parse(s)
	if nil != err {
		return false
	}

	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
}
