package httputil_test

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tunedl/config"
	"github.com/xeptore/tunedl/httputil"
)

func newResponse(body string, header http.Header) *http.Response {
	return &http.Response{ //nolint:exhaustruct
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestReadResponseBody(t *testing.T) {
	t.Parallel()

	b, err := httputil.ReadResponseBody(newResponse(`{"ok":true}`, nil))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(b))

	_, err = httputil.ReadResponseBody(newResponse("", nil))
	assert.Error(t, err)

	_, err = httputil.ReadResponseBody(newResponse(strings.Repeat("x", httputil.MaxResponseBodySize+1), nil))
	assert.Error(t, err)
}

func TestReadLimitedResponseBody(t *testing.T) {
	t.Parallel()

	b, err := httputil.ReadLimitedResponseBody(newResponse("12345", nil), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(b))

	_, err = httputil.ReadLimitedResponseBody(newResponse("123456", nil), 5)
	assert.Error(t, err)
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3*time.Second, httputil.RetryAfter(newResponse("", http.Header{"Retry-After": {"3"}})))
	assert.Zero(t, httputil.RetryAfter(newResponse("", http.Header{})))
	assert.Zero(t, httputil.RetryAfter(newResponse("", http.Header{"Retry-After": {"later"}})))
}

func TestIsTokenExpiredResponse(t *testing.T) {
	t.Parallel()

	ok, err := httputil.IsTokenExpiredResponse([]byte(`{"error":{"status":401,"message":"The access token expired"}}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = httputil.IsTokenExpiredResponse([]byte(`{"error":{"status":401,"message":"Invalid access token"}}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = httputil.IsTokenExpiredResponse([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	c, err := httputil.NewClient(config.Proxy{}, 2*time.Second) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, c.Timeout)

	c, err = httputil.NewClient(config.Proxy{Host: "127.0.0.1", Port: 1080}, time.Second)
	require.NoError(t, err)
	assert.NotNil(t, c.Transport)
}
