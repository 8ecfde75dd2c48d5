package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/xeptore/tunedl/unit"
)

// MaxResponseBodySize bounds API responses read with ReadResponseBody.
const MaxResponseBodySize = 4 * unit.Mebibyte

func ReadResponseBody(resp *http.Response) ([]byte, error) {
	respBody, err := ReadLimitedResponseBody(resp, MaxResponseBodySize)
	if nil != err {
		return nil, err
	}

	if len(respBody) == 0 {
		return nil, errors.New("unexpected empty response body")
	}

	return respBody, nil
}

// ReadLimitedResponseBody reads at most limit bytes and fails when the body
// is larger than that.
func ReadLimitedResponseBody(resp *http.Response, limit int64) ([]byte, error) {
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if nil != err {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(respBody)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}

	return respBody, nil
}

// RetryAfter returns the delay requested by a 429 response, or zero when the
// header is absent or malformed.
func RetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}

	if secs, err := strconv.Atoi(v); nil == err && secs >= 0 {
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(v); nil == err {
		return max(time.Until(at), 0)
	}

	return 0
}

func IsTokenExpiredResponse(b []byte) (bool, error) {
	var body struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &body); nil != err {
		return false, fmt.Errorf("failed to decode 401 status code response body: %v", err)
	}

	return body.Error.Status == http.StatusUnauthorized &&
		body.Error.Message == "The access token expired", nil
}
