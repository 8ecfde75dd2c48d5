package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/xeptore/tunedl/acquire"
	"github.com/xeptore/tunedl/counter"
	"github.com/xeptore/tunedl/iterutil"
	"github.com/xeptore/tunedl/lifecycle"
	"github.com/xeptore/tunedl/search"
)

func queryArg(cmd *cli.Command) (string, error) {
	q := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if q == "" {
		return "", errors.New("a search query is required")
	}

	return q, nil
}

func searchCmd(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf, logger, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	query, err := queryArg(cmd)
	if nil != err {
		return err
	}

	candidates, err := search.New(conf.Search, conf.Acquire.YtdlpPath).Search(ctx, logger, query)
	if nil != err {
		return fmt.Errorf("search: %w", err)
	}

	if len(candidates) == 0 {
		logger.Warn().Str("query", query).Msg("Nothing found")
		return exitCodeError(4)
	}

	renderCandidates(os.Stdout, candidates)

	return nil
}

func renderCandidates(w io.Writer, candidates []search.Candidate) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Title", "URL"})
	for i, c := range candidates {
		t.AppendRow(table.Row{i + 1, c.Title, text.FgCyan.Sprint(c.Locator)})
	}
	t.Render()
}

func get(ctx context.Context, cmd *cli.Command) (err error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf, logger, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	query, err := queryArg(cmd)
	if nil != err {
		return err
	}

	candidates, err := search.New(conf.Search, conf.Acquire.YtdlpPath).Search(ctx, logger, query)
	if nil != err {
		return fmt.Errorf("search: %w", err)
	}

	if len(candidates) == 0 {
		logger.Warn().Str("query", query).Msg("Nothing found")
		return exitCodeError(4)
	}

	picked, err := pick(candidates, cmd.Int("pick"))
	if nil != err {
		if errors.Is(err, syscall.ENOTTY) {
			logger.Error().Msg("No TTY detected. Pass --pick to choose a candidate non-interactively.")
			return exitCodeError(1)
		}

		return err
	}

	registry, err := lifecycle.NewRegistry(logger, conf.Server.TmpDir, conf.Server.FileTTL.Duration)
	if nil != err {
		return fmt.Errorf("create file registry: %v", err)
	}
	defer registry.Close()

	store, err := counter.New(conf.Store)
	if nil != err {
		return fmt.Errorf("open counter store: %v", err)
	}
	defer func() {
		if closeErr := store.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close counter store: %v", closeErr))
		}
	}()

	p, err := newPipeline(conf, registry)
	if nil != err {
		return err
	}

	out, err := p.Run(ctx, logger, strings.ReplaceAll(query, " ", "_"), picked.Locator)
	if nil != err {
		return fmt.Errorf("process %s: %w", picked.Locator, err)
	}

	d, ok := p.Deliver(out.Job.ID)
	if !ok {
		return fmt.Errorf("file of job %s is no longer available", out.Job.ID)
	}
	defer d.Release()

	dst := filepath.Join(cmd.String("out"), acquire.SanitizeName(out.Record.Song)+".mp3")
	if err := copyFile(d.Path(), dst); nil != err {
		return fmt.Errorf("save file: %v", err)
	}

	if _, err := store.Record(context.WithoutCancel(ctx), out.Record.Label()); nil != err {
		logger.Error().Err(err).Msg("Failed to record delivery")
	}

	logger.Info().
		Str("file", dst).
		Str("label", out.Record.Label()).
		Bool("metadata_found", out.Record.MetadataFound).
		Bool("tagged", out.Record.Tagged).
		Msg("Song saved")

	return nil
}

// pick returns the candidate at the 1-based index, or asks for one when index
// is zero.
func pick(candidates []search.Candidate, index int) (search.Candidate, error) {
	if index > 0 {
		if index > len(candidates) {
			return search.Candidate{}, fmt.Errorf("pick must be between 1 and %d", len(candidates))
		}

		return candidates[index-1], nil
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return search.Candidate{}, syscall.ENOTTY
	}

	prompt := &survey.Select{ //nolint:exhaustruct
		Message: "Pick a source:",
		Options: iterutil.Map(candidates, func(_ int, c search.Candidate) string { return c.Title }),
	}

	var selected int
	if err := survey.AskOne(prompt, &selected, survey.WithStdio(os.Stdin, os.Stdout, os.Stderr)); nil != err {
		return search.Candidate{}, fmt.Errorf("prompt: %w", err)
	}

	return candidates[selected], nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if nil != err {
		return fmt.Errorf("failed to open source file: %v", err)
	}
	defer func() {
		if closeErr := in.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close source file: %v", closeErr))
		}
	}()

	if err := os.MkdirAll(filepath.Dir(dst), 0o0755); nil != err {
		return fmt.Errorf("failed to create output directory: %v", err)
	}

	out, err := os.Create(dst)
	if nil != err {
		return fmt.Errorf("failed to create output file: %v", err)
	}
	defer func() {
		if closeErr := out.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close output file: %v", closeErr))
		}
	}()

	if _, err := io.Copy(out, in); nil != err {
		return fmt.Errorf("failed to copy file: %v", err)
	}

	return nil
}

func stats(ctx context.Context, cmd *cli.Command) (err error) {
	conf, _, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	store, err := counter.New(conf.Store)
	if nil != err {
		return fmt.Errorf("open counter store: %v", err)
	}
	defer func() {
		if closeErr := store.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close counter store: %v", closeErr))
		}
	}()

	stat, err := store.Read(ctx)
	if nil != err {
		return fmt.Errorf("read counter: %v", err)
	}

	renderStat(os.Stdout, stat)

	return nil
}

func renderStat(w io.Writer, stat counter.Stat) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Delivered", stat.DeliveredCount},
		{"Last delivered", lo.Ternary(stat.LastDeliveredLabel == "", text.Faint.Sprint("none"), stat.LastDeliveredLabel)},
	})
	t.Render()
}

