package acquire

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const killGracePeriod = 2 * time.Second

type FFmpegTranscoder struct {
	path    string
	bitrate string
}

func NewFFmpegTranscoder(path, bitrate string) *FFmpegTranscoder {
	return &FFmpegTranscoder{path: path, bitrate: bitrate}
}

func (t *FFmpegTranscoder) args(src, dst string) []string {
	return []string{
		"-y",
		"-loglevel",
		"error",
		"-nostdin",
		"-i",
		src,
		"-vn",
		"-map_metadata",
		"-1",
		"-acodec",
		"libmp3lame",
		"-ar",
		"44100",
		"-b:a",
		t.bitrate,
		"-id3v2_version",
		"4",
		"-f",
		"mp3",
		dst,
	}
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, logger zerolog.Logger, src, dst string) error {
	cmd := exec.CommandContext(ctx, t.path, t.args(src, dst)...)
	logger.Debug().Strs("args", cmd.Args).Msg("Starting ffmpeg command")

	// Setpgid is required to kill the process group when the context is cancelled.
	// Only works on Unix.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true} //nolint:exhaustruct
	cmd.Cancel = func() error {
		p := cmd.Process
		if p == nil {
			return nil
		}

		// Send SIGTERM to the process group (-PID) so children get it too.
		_ = syscall.Kill(-p.Pid, syscall.SIGTERM)
		time.AfterFunc(killGracePeriod, func() { _ = syscall.Kill(-p.Pid, syscall.SIGKILL) })

		return nil
	}
	cmd.WaitDelay = 2 * killGracePeriod

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); nil != err {
		if ctxErr := ctx.Err(); nil != ctxErr {
			return ctxErr
		}

		return fmt.Errorf("ffmpeg failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	return nil
}
