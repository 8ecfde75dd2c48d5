package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/xeptore/tunedl/httputil"
)

var coverMIMEs = []string{"image/jpeg", "image/png"}

func (r *Resolver) cover(ctx context.Context, logger zerolog.Logger, coverURL string) ([]byte, string, error) {
	b, err := r.cache.Covers.Fetch(ctx, coverURL, r.cacheTTL, func(ctx context.Context) ([]byte, error) {
		return r.downloadCover(ctx, logger, coverURL)
	})
	if nil != err {
		return nil, "", err
	}

	return b, mimetype.Detect(b).String(), nil
}

func (r *Resolver) downloadCover(ctx context.Context, logger zerolog.Logger, coverURL string) (b []byte, err error) {
	ctx, cancel := withOptionalTimeout(ctx, r.coverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if nil != err {
		return nil, fmt.Errorf("failed to create cover request: %v", err)
	}

	resp, err := r.client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("failed to issue cover request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close cover response body")
			err = errors.Join(err, fmt.Errorf("failed to close cover response body: %v", closeErr))
		}
	}()

	if code := resp.StatusCode; code != http.StatusOK {
		return nil, fmt.Errorf("unexpected cover response status code: %d", code)
	}

	b, err = httputil.ReadLimitedResponseBody(resp, r.maxCoverSize)
	if nil != err {
		return nil, err
	}

	if len(b) == 0 {
		return nil, errors.New("cover image is empty")
	}

	if mime := mimetype.Detect(b); !mimetype.EqualsAny(mime.String(), coverMIMEs...) {
		return nil, fmt.Errorf("cover is %s, not an image", mime.String())
	}

	return b, nil
}
