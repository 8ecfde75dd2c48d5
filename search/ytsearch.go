package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppalone/ytsearch"
	"github.com/rs/zerolog"

	"github.com/xeptore/tunedl/iterutil"
)

// YTSearch scrapes the YouTube results page without spawning processes.
type YTSearch struct {
	client *ytsearch.Client
}

func NewYTSearch() *YTSearch {
	return &YTSearch{client: ytsearch.NewClient(nil)}
}

func (y *YTSearch) Search(ctx context.Context, logger zerolog.Logger, query string, limit int) ([]Candidate, error) {
	res, err := y.client.Search(ctx, query)
	if nil != err {
		return nil, fmt.Errorf("ytsearch: %w", err)
	}

	out := make([]Candidate, 0, len(res.Results))
	for _, v := range res.Results {
		if strings.TrimSpace(v.VideoID) == "" {
			continue
		}
		out = append(out, Candidate{Title: strings.TrimSpace(v.Title), Locator: watchURL(v.VideoID)})
	}

	logger.Trace().Int("results", len(res.Results)).Msg("ytsearch returned")

	// Skipped entries are made up for by the caller's filtering; asking for
	// twice the limit keeps enough slack.
	return iterutil.Take(out, limit*2), nil
}
