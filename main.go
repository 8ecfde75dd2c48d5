package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/xeptore/tunedl/acquire"
	"github.com/xeptore/tunedl/catalog"
	"github.com/xeptore/tunedl/config"
	"github.com/xeptore/tunedl/constant"
	"github.com/xeptore/tunedl/counter"
	"github.com/xeptore/tunedl/lifecycle"
	"github.com/xeptore/tunedl/log"
	"github.com/xeptore/tunedl/pipeline"
	"github.com/xeptore/tunedl/search"
	"github.com/xeptore/tunedl/tag"
	"github.com/xeptore/tunedl/web"
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "tunedl",
		Version: constant.Version,
		Metadata: map[string]any{
			"compiled_at": constant.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "Search, download and tag songs",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:   "serve",
				Usage:  "Run the web server",
				Action: serve,
			},
			//nolint:exhaustruct
			{
				Name:      "search",
				Usage:     "List candidate sources for a song",
				ArgsUsage: "<query>",
				Action:    searchCmd,
			},
			//nolint:exhaustruct
			{
				Name:      "get",
				Usage:     "Download and tag a song into a directory",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:  "out",
						Usage: "Output directory",
						Value: ".",
					},
					//nolint:exhaustruct
					&cli.IntFlag{
						Name:  "pick",
						Usage: "1-based index of the candidate to download, skipping the interactive prompt",
						Value: 0,
					},
				},
				Action: get,
			},
			//nolint:exhaustruct
			{
				Name:   "stats",
				Usage:  "Print the delivery counter",
				Action: stats,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func loadConfig(cmd *cli.Command) (*config.Config, zerolog.Logger, error) {
	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, logger, fmt.Errorf("load .env file: %v", err)
		}
		logger.Debug().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return nil, logger, fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)
	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	return conf, logger, nil
}

func newPipeline(conf *config.Config, registry *lifecycle.Registry) (*pipeline.Pipeline, error) {
	resolver, err := catalog.New(conf.Catalog, conf.Proxy)
	if nil != err {
		return nil, fmt.Errorf("create catalog resolver: %v", err)
	}

	return pipeline.New(
		acquire.New(conf.Acquire, conf.Proxy),
		resolver,
		tag.NewWriter(),
		registry,
		conf.Server.MaxJobs,
	), nil
}

func serve(ctx context.Context, cmd *cli.Command) (err error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf, logger, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	if conf.Log.Level == "debug" || conf.Log.Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry, err := lifecycle.NewRegistry(logger, conf.Server.TmpDir, conf.Server.FileTTL.Duration)
	if nil != err {
		return fmt.Errorf("create file registry: %v", err)
	}
	defer registry.Close()

	removed, err := registry.Sweep()
	if nil != err {
		return fmt.Errorf("sweep leftover files: %v", err)
	}
	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("Removed files left over by a previous run")
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

	p, err := newPipeline(conf, registry)
	if nil != err {
		return err
	}

	s := web.NewServer(logger, search.New(conf.Search, conf.Acquire.YtdlpPath), p, store, conf.Server.FileTTL.Duration)
	if err := s.ListenAndServe(ctx, conf.Server.Addr, conf.Server.ShutdownTimeout.Duration); nil != err {
		return fmt.Errorf("serve: %v", err)
	}

	logger.Info().Int("pending_files", p.Pending()).Msg("Server stopped, releasing pending files")

	return nil
}
