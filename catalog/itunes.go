package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/xeptore/tunedl/config"
	"github.com/xeptore/tunedl/httputil"
)

// ITunes queries the public iTunes Search API, which needs no credentials.
type ITunes struct {
	client  *http.Client
	baseURL string
	country string
}

func NewITunes(client *http.Client, conf config.ITunes) *ITunes {
	return &ITunes{
		client:  client,
		baseURL: conf.BaseURL,
		country: conf.Country,
	}
}

func (p *ITunes) Lookup(ctx context.Context, logger zerolog.Logger, query string) (m *Match, err error) {
	reqURL, err := url.JoinPath(p.baseURL, "/search")
	if nil != err {
		return nil, fmt.Errorf("failed to join base URL and search path: %v", err)
	}

	params := make(url.Values, 5)
	params.Add("term", query)
	params.Add("media", "music")
	params.Add("entity", "song")
	params.Add("limit", "1")
	params.Add("country", p.country)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL+"?"+params.Encode(), nil)
	if nil != err {
		return nil, fmt.Errorf("failed to create search request: %v", err)
	}
	req.Header.Add("Accept", "application/json")

	resp, err := p.client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("failed to issue search request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close response body")
			err = errors.Join(err, fmt.Errorf("failed to close response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; code {
	case http.StatusOK:
	case http.StatusTooManyRequests, http.StatusForbidden:
		return nil, &RateLimitedError{RetryAfter: httputil.RetryAfter(resp)}
	default:
		return nil, fmt.Errorf("unexpected search response status code: %d", code)
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return nil, err
	}

	if !gjson.ValidBytes(respBytes) {
		logger.Error().Bytes("response_body", respBytes).Msg("Received invalid JSON from iTunes")
		return nil, errors.New("invalid search response body")
	}

	track := gjson.GetBytes(respBytes, "results.0")
	if !track.Exists() {
		return nil, ErrNoMatch
	}

	title := strings.TrimSpace(track.Get("trackName").String())
	if title == "" {
		return nil, ErrNoMatch
	}

	return &Match{
		Artist:   strings.TrimSpace(track.Get("artistName").String()),
		Album:    strings.TrimSpace(track.Get("collectionName").String()),
		Title:    title,
		CoverURL: largeArtwork(track.Get("artworkUrl100").String()),
	}, nil
}

// largeArtwork rewrites the 100px thumbnail URL to the 600px rendition the
// artwork CDN serves under the same path.
func largeArtwork(u string) string {
	return strings.Replace(u, "/100x100bb.", "/600x600bb.", 1)
}
