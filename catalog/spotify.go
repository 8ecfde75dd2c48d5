package catalog

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/xeptore/tunedl/config"
	"github.com/xeptore/tunedl/httputil"
)

const tokenExpiryMargin = 60 * time.Second

var (
	errTokenExpired = errors.New("access token expired")
	ErrUnauthorized = errors.New("catalog rejected client credentials")
)

// Spotify searches the Web API using the client credentials flow.
type Spotify struct {
	client       *http.Client
	accountsURL  string
	apiURL       string
	market       string
	clientID     string
	clientSecret string

	mux       sync.Mutex
	token     string
	expiresAt time.Time
}

func NewSpotify(client *http.Client, conf config.Spotify) *Spotify {
	return &Spotify{ //nolint:exhaustruct
		client:       client,
		accountsURL:  conf.AccountsURL,
		apiURL:       conf.APIURL,
		market:       conf.Market,
		clientID:     conf.ClientID,
		clientSecret: conf.ClientSecret,
	}
}

func (p *Spotify) Lookup(ctx context.Context, logger zerolog.Logger, query string) (*Match, error) {
	m, err := p.search(ctx, logger, query)
	if errors.Is(err, errTokenExpired) {
		logger.Debug().Msg("Access token expired, requesting a new one")
		p.invalidateToken()

		return p.search(ctx, logger, query)
	}

	return m, err
}

func (p *Spotify) invalidateToken() {
	p.mux.Lock()
	defer p.mux.Unlock()

	p.token = ""
	p.expiresAt = time.Time{}
}

func (p *Spotify) accessToken(ctx context.Context, logger zerolog.Logger) (string, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	if p.token != "" && time.Now().Before(p.expiresAt.Add(-tokenExpiryMargin)) {
		return p.token, nil
	}

	token, expiresIn, err := p.requestToken(ctx, logger)
	if nil != err {
		return "", err
	}

	p.token = token
	p.expiresAt = time.Now().Add(expiresIn)

	return token, nil
}

func (p *Spotify) requestToken(ctx context.Context, logger zerolog.Logger) (token string, expiresIn time.Duration, err error) {
	reqURL, err := url.JoinPath(p.accountsURL, "/api/token")
	if nil != err {
		return "", 0, fmt.Errorf("failed to join accounts URL and token path: %v", err)
	}

	reqParams := make(url.Values, 1)
	reqParams.Add("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBufferString(reqParams.Encode()))
	if nil != err {
		return "", 0, fmt.Errorf("failed to create token request: %v", err)
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("Accept", "application/json")
	req.Header.Add(
		"Authorization",
		"Basic "+base64.StdEncoding.Strict().EncodeToString([]byte(p.clientID+":"+p.clientSecret)),
	)

	resp, err := p.client.Do(req)
	if nil != err {
		return "", 0, fmt.Errorf("failed to issue token request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close token response body")
			err = errors.Join(err, fmt.Errorf("failed to close token response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; code {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized:
		return "", 0, ErrUnauthorized
	case http.StatusTooManyRequests:
		return "", 0, &RateLimitedError{RetryAfter: httputil.RetryAfter(resp)}
	default:
		return "", 0, fmt.Errorf("unexpected token response status code: %d", code)
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return "", 0, err
	}

	var respBody struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		return "", 0, fmt.Errorf("failed to decode token response body: %v", err)
	}

	if respBody.AccessToken == "" || !strings.EqualFold(respBody.TokenType, "bearer") {
		return "", 0, errors.New("token response does not carry a bearer token")
	}

	return respBody.AccessToken, time.Duration(respBody.ExpiresIn) * time.Second, nil
}

func (p *Spotify) search(ctx context.Context, logger zerolog.Logger, query string) (m *Match, err error) {
	token, err := p.accessToken(ctx, logger)
	if nil != err {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	reqURL, err := url.JoinPath(p.apiURL, "/v1/search")
	if nil != err {
		return nil, fmt.Errorf("failed to join API URL and search path: %v", err)
	}

	params := make(url.Values, 4)
	params.Add("q", query)
	params.Add("type", "track")
	params.Add("limit", "1")
	params.Add("market", p.market)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL+"?"+params.Encode(), nil)
	if nil != err {
		return nil, fmt.Errorf("failed to create search request: %v", err)
	}
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("failed to issue search request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close search response body")
			err = errors.Join(err, fmt.Errorf("failed to close search response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; code {
	case http.StatusOK:
	case http.StatusUnauthorized:
		respBytes, err := httputil.ReadResponseBody(resp)
		if nil != err {
			return nil, fmt.Errorf("failed to read 401 response body: %w", err)
		}

		if ok, err := httputil.IsTokenExpiredResponse(respBytes); nil != err {
			logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to check if 401 response is token expired")
			return nil, fmt.Errorf("failed to check if 401 response is token expired: %v", err)
		} else if ok {
			return nil, errTokenExpired
		}

		logger.Error().Bytes("response_body", respBytes).Msg("Unexpected 401 response")

		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: httputil.RetryAfter(resp)}
	default:
		return nil, fmt.Errorf("unexpected search response status code: %d", code)
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return nil, err
	}

	if !gjson.ValidBytes(respBytes) {
		return nil, errors.New("invalid search response body")
	}

	track := gjson.GetBytes(respBytes, "tracks.items.0")
	if !track.Exists() {
		return nil, ErrNoMatch
	}

	title := strings.TrimSpace(track.Get("name").String())
	if title == "" {
		return nil, ErrNoMatch
	}

	return &Match{
		Artist:   strings.TrimSpace(track.Get("artists.0.name").String()),
		Album:    strings.TrimSpace(track.Get("album.name").String()),
		Title:    title,
		CoverURL: track.Get("album.images.0.url").String(),
	}, nil
}
