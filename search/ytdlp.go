package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"
)

// Ytdlp uses yt-dlp's ytsearch extractor. It is slower than YTSearch but keeps
// working when the results page markup changes.
type Ytdlp struct {
	executable string
}

func NewYtdlp(executable string) *Ytdlp {
	return &Ytdlp{executable: executable}
}

func (y *Ytdlp) command(limit int) *ytdlp.Command {
	return ytdlp.New().
		SetExecutable(y.executable).
		FlatPlaylist().
		Print("%(id)s\t%(title)s").
		PlaylistItems("1-" + strconv.Itoa(limit)).
		NoWarnings().
		IgnoreConfig()
}

func (y *Ytdlp) Search(ctx context.Context, logger zerolog.Logger, query string, limit int) ([]Candidate, error) {
	res, err := y.command(limit).Run(ctx, searchTarget(query, limit))
	if nil != err {
		return nil, fmt.Errorf("yt-dlp search: %w", err)
	}

	return parseYtdlpLines(logger, res.Stdout), nil
}

func searchTarget(query string, limit int) string {
	return "ytsearch" + strconv.Itoa(limit) + ":" + query
}

func parseYtdlpLines(logger zerolog.Logger, stdout string) []Candidate {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	out := make([]Candidate, 0, len(lines))
	for _, l := range lines {
		id, title, ok := strings.Cut(l, "\t")
		if !ok {
			if len(strings.TrimSpace(l)) > 0 {
				logger.Warn().Str("line", l).Msg("Skipping malformed yt-dlp search line")
			}
			continue
		}

		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		out = append(out, Candidate{Title: strings.TrimSpace(title), Locator: watchURL(id)})
	}

	return out
}
