package acquire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/xeptore/tunedl/config"
	"github.com/xeptore/tunedl/unit"
)

var ErrAcquisitionFailed = errors.New("audio acquisition failed")

const (
	outputExt  = ".mp3"
	sourceExt  = ".source"
	outputMIME = "audio/mpeg"
)

// Fetcher downloads the best available audio stream of locator to dest
// without touching any other path.
type Fetcher interface {
	Fetch(ctx context.Context, logger zerolog.Logger, locator, dest string) error
}

// Transcoder converts src to an MP3 file at dst.
type Transcoder interface {
	Transcode(ctx context.Context, logger zerolog.Logger, src, dst string) error
}

type Acquirer struct {
	fetcher          Fetcher
	transcoder       Transcoder
	fetchTimeout     time.Duration
	transcodeTimeout time.Duration
}

func New(conf config.Acquire, proxy config.Proxy) *Acquirer {
	var proxyURL string
	if proxy.Enabled() {
		proxyURL = "socks5://" + net.JoinHostPort(proxy.Host, strconv.Itoa(proxy.Port))
	}

	return NewAcquirer(
		NewYtdlpFetcher(conf.YtdlpPath, conf.MaxRetries, proxyURL),
		NewFFmpegTranscoder(conf.FFmpegPath, conf.Bitrate),
		conf.Timeouts,
	)
}

func NewAcquirer(fetcher Fetcher, transcoder Transcoder, timeouts config.AcquireTimeouts) *Acquirer {
	return &Acquirer{
		fetcher:          fetcher,
		transcoder:       transcoder,
		fetchTimeout:     timeouts.Fetch.Duration,
		transcodeTimeout: timeouts.Transcode.Duration,
	}
}

// Acquire writes the audio behind locator to storageDir/destinationName.mp3
// and returns that path. On failure nothing it created is left on disk.
func (a *Acquirer) Acquire(ctx context.Context, logger zerolog.Logger, locator, destinationName, storageDir string) (path string, err error) {
	if destinationName == "" || strings.ContainsAny(destinationName, `/\`) || destinationName != SanitizeName(destinationName) {
		return "", fmt.Errorf("%w: invalid destination name %q", ErrAcquisitionFailed, destinationName)
	}

	if err := os.MkdirAll(storageDir, 0o0700); nil != err {
		return "", fmt.Errorf("%w: failed to create storage directory: %v", ErrAcquisitionFailed, err)
	}

	var (
		sourcePath = filepath.Join(storageDir, destinationName+sourceExt)
		outputPath = filepath.Join(storageDir, destinationName+outputExt)
	)
	logger = logger.With().Str("locator", locator).Str("output", outputPath).Logger()

	defer func() {
		if rmErr := removeIfExists(sourcePath); nil != rmErr {
			logger.Error().Err(rmErr).Msg("Failed to remove source file")
			err = errors.Join(err, rmErr)
		}

		if nil == err {
			return
		}

		if rmErr := removeIfExists(outputPath); nil != rmErr {
			logger.Error().Err(rmErr).Msg("Failed to remove partial output file")
			err = errors.Join(err, rmErr)
		}
	}()

	fetchCtx, cancel := withOptionalTimeout(ctx, a.fetchTimeout)
	defer cancel()

	logger.Debug().Msg("Fetching source audio")
	if err := a.fetcher.Fetch(fetchCtx, logger, locator, sourcePath); nil != err {
		logger.Error().Err(err).Msg("Failed to fetch source audio")
		return "", fmt.Errorf("%w: fetch: %w", ErrAcquisitionFailed, err)
	}

	transcodeCtx, cancel := withOptionalTimeout(ctx, a.transcodeTimeout)
	defer cancel()

	logger.Debug().Msg("Transcoding source audio")
	if err := a.transcoder.Transcode(transcodeCtx, logger, sourcePath, outputPath); nil != err {
		logger.Error().Err(err).Msg("Failed to transcode source audio")
		return "", fmt.Errorf("%w: transcode: %w", ErrAcquisitionFailed, err)
	}

	size, err := verifyOutput(outputPath)
	if nil != err {
		logger.Error().Err(err).Msg("Transcoded output is not usable")
		return "", fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}

	logger.Info().Str("size", unit.Format(size)).Msg("Audio acquired")

	return outputPath, nil
}

func verifyOutput(path string) (int64, error) {
	info, err := os.Stat(path)
	if nil != err {
		return 0, fmt.Errorf("failed to stat output file: %v", err)
	}

	if info.Size() == 0 {
		return 0, errors.New("output file is empty")
	}

	mime, err := mimetype.DetectFile(path)
	if nil != err {
		return 0, fmt.Errorf("failed to detect output file type: %v", err)
	}

	if !mime.Is(outputMIME) {
		return 0, fmt.Errorf("output file is %s, expected %s", mime.String(), outputMIME)
	}

	return info.Size(), nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %v", path, err)
	}

	return nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d)
}
