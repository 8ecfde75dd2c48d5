package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"

	"github.com/xeptore/tunedl/ratelimit"
)

// Stderr fragments yt-dlp prints for sources that will never download.
var permanentFailures = []string{
	"video unavailable",
	"private video",
	"has been removed",
	"is not available",
	"sign in to confirm your age",
	"unsupported url",
	"drm",
}

type YtdlpFetcher struct {
	executable string
	maxRetries uint64
	proxy      string
}

// NewYtdlpFetcher returns a fetcher running the yt-dlp binary at executable
// that retries transient failures up to maxRetries times. proxy is passed to
// yt-dlp as-is when not empty.
func NewYtdlpFetcher(executable string, maxRetries int, proxy string) *YtdlpFetcher {
	return &YtdlpFetcher{
		executable: executable,
		maxRetries: uint64(max(maxRetries, 0)), //nolint:gosec
		proxy:      proxy,
	}
}

func (f *YtdlpFetcher) command(dest string) *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(f.executable).
		Format("bestaudio/best").
		Output(dest).
		NoPart().
		NoPlaylist().
		NoWarnings().
		IgnoreConfig()
	if f.proxy != "" {
		cmd = cmd.Proxy(f.proxy)
	}

	return cmd
}

func (f *YtdlpFetcher) Fetch(ctx context.Context, logger zerolog.Logger, locator, dest string) error {
	attempt := 0
	op := func() error {
		attempt++
		if err := removeIfExists(dest); nil != err {
			return backoff.Permanent(err)
		}

		res, err := f.command(dest).Run(ctx, locator)
		if nil != err {
			if ctxErr := ctx.Err(); nil != ctxErr {
				return backoff.Permanent(ctxErr)
			}

			var stderr string
			if nil != res {
				stderr = strings.TrimSpace(res.Stderr)
			}

			if isPermanentFailure(stderr) {
				return backoff.Permanent(fmt.Errorf("source is not downloadable: %s", stderr))
			}

			logger.Warn().Err(err).Int("attempt", attempt).Str("stderr", stderr).Msg("yt-dlp download attempt failed")

			return fmt.Errorf("yt-dlp failed: %v", err)
		}

		return nil
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(newBackOff(), f.maxRetries), ctx), func(err error, d time.Duration) {
		logger.Debug().Err(err).Dur("wait", d).Msg("Retrying source download")
	})
	if nil != err {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("failed to download source after %d attempt(s): %w", attempt, err)
	}

	return nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ratelimit.RetryJitter()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	return b
}

func isPermanentFailure(stderr string) bool {
	stderr = strings.ToLower(stderr)
	for _, s := range permanentFailures {
		if strings.Contains(stderr, s) {
			return true
		}
	}

	return false
}
