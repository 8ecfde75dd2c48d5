package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/xeptore/tunedl/constant"
	"github.com/xeptore/tunedl/counter"
	"github.com/xeptore/tunedl/must"
	"github.com/xeptore/tunedl/pipeline"
	"github.com/xeptore/tunedl/search"
)

//go:embed templates/*.html
var templatesFS embed.FS

type Pipeline interface {
	Run(ctx context.Context, logger zerolog.Logger, title, locator string) (*pipeline.Outcome, error)
	Deliver(id string) (*pipeline.Delivery, bool)
}

type Server struct {
	logger   zerolog.Logger
	searcher search.Searcher
	pipeline Pipeline
	counter  counter.Store
	fileTTL  time.Duration
	engine   *gin.Engine
}

func NewServer(logger zerolog.Logger, searcher search.Searcher, p Pipeline, store counter.Store, fileTTL time.Duration) *Server {
	s := &Server{
		logger:   logger,
		searcher: searcher,
		pipeline: p,
		counter:  store,
		fileTTL:  fileTTL,
		engine:   gin.New(),
	}

	// Download titles may contain escaped slashes.
	s.engine.UseRawPath = true
	s.engine.UnescapePathValues = true

	s.engine.SetHTMLTemplate(
		must.Get(
			template.New("").
				Funcs(template.FuncMap{"version": func() string { return constant.Version }}).
				ParseFS(templatesFS, "templates/*.html"),
		),
	)

	s.engine.Use(requestID(), requestLogger(logger), recovery())
	s.routes()

	return s
}

func (s *Server) routes() {
	s.engine.GET("/", s.index)
	s.engine.POST("/songlist", s.songlist)
	s.engine.POST("/process", s.process)
	s.engine.GET("/download/:id/:title", s.download)
	s.engine.POST("/download/:id/:title", s.download)
	s.engine.GET("/about", s.static("about", "About"))
	s.engine.GET("/help", s.static("help", "Help"))
	s.engine.GET("/caution", s.static("caution", "Caution"))
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.engine.NoRoute(func(c *gin.Context) {
		renderError(c, http.StatusNotFound, "Not found", "There is nothing here.")
	})
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is done, then gives in-flight requests up
// to shutdownTimeout to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if nil != err {
		return fmt.Errorf("failed to listen on %s: %v", addr, err)
	}

	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is ListenAndServe on an existing listener, which it closes.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	// Requests outlive ctx so that Shutdown can drain them.
	baseCtx := context.WithoutCancel(ctx)

	srv := &http.Server{ //nolint:exhaustruct
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP server")
		errs <- srv.Serve(ln)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("http server failed: %v", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(baseCtx, shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); nil != err {
		return fmt.Errorf("failed to shut down http server: %v", err)
	}

	if err := <-errs; nil != err && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %v", err)
	}

	return nil
}
