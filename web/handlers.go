package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xeptore/tunedl/counter"
	"github.com/xeptore/tunedl/pipeline"
	"github.com/xeptore/tunedl/search"
)

const audioExt = ".mp3"

func (s *Server) index(c *gin.Context) {
	logger := loggerFrom(c)

	stat, err := s.counter.Read(c.Request.Context())
	if nil != err {
		logger.Error().Err(err).Msg("Failed to read visit counter")
		stat = counter.Stat{}
	}

	c.HTML(http.StatusOK, "index", gin.H{"Title": "", "Stat": stat})
}

func (s *Server) songlist(c *gin.Context) {
	logger := loggerFrom(c)
	query := strings.TrimSpace(c.PostForm("songname"))

	candidates, err := s.searcher.Search(c.Request.Context(), logger, query)
	if nil != err {
		switch {
		case errors.Is(err, search.ErrEmptyQuery):
			renderError(c, http.StatusBadRequest, "Missing song name", "Type a song name to search for.")
		case errors.Is(err, search.ErrSearchUnavailable):
			renderError(c, http.StatusServiceUnavailable, "Search is unavailable", "The video index could not be reached. Please try again.")
		default:
			logger.Error().Err(err).Msg("Unexpected search error")
			renderError(c, http.StatusInternalServerError, "Something went wrong", "Please try again in a moment.")
		}

		return
	}

	c.HTML(http.StatusOK, "songlist", gin.H{
		"Title":          "Results",
		"Query":          query,
		"RequestedTitle": strings.ReplaceAll(query, " ", "_"),
		"Candidates":     candidates,
	})
}

func (s *Server) process(c *gin.Context) {
	logger := loggerFrom(c)
	ctx := c.Request.Context()

	out, err := s.pipeline.Run(ctx, logger, c.PostForm("title"), c.PostForm("url"))
	if nil != err {
		switch {
		case errors.Is(err, pipeline.ErrValidation):
			renderError(c, http.StatusBadRequest, "Missing song details", "Pick a song from the search results first.")
		case errors.Is(err, pipeline.ErrBusy):
			renderError(c, http.StatusServiceUnavailable, "Server is busy", "Too many songs are being prepared right now. Please try again shortly.")
		case errors.Is(err, context.Canceled):
			logger.Warn().Err(err).Msg("Client went away while processing")
			c.Status(499)
		case errors.Is(err, pipeline.ErrAcquisitionFailed):
			renderError(c, http.StatusBadGateway, "Could not get this song", "The selected source could not be downloaded. Try another result.")
		default:
			logger.Error().Err(err).Msg("Unexpected pipeline error")
			renderError(c, http.StatusInternalServerError, "Something went wrong", "Please try again in a moment.")
		}

		return
	}

	// Recorded even if the client goes away from here on: the file is ready.
	if _, err := s.counter.Record(context.WithoutCancel(ctx), out.Record.Label()); nil != err {
		logger.Error().Err(err).Msg("Failed to record delivery")
	}

	c.HTML(http.StatusOK, "process", gin.H{
		"Title":       out.Record.Song,
		"Record":      out.Record,
		"DownloadURL": downloadURL(out.Job.ID, out.Record.Song),
		"TTL":         s.fileTTL.String(),
	})
}

func downloadURL(id, title string) string {
	return "/download/" + url.PathEscape(id) + "/" + url.PathEscape(title)
}

func (s *Server) download(c *gin.Context) {
	logger := loggerFrom(c)
	id := c.Param("id")

	d, ok := s.pipeline.Deliver(id)
	if !ok {
		renderError(c, http.StatusNotFound, "File is gone", "This file was already downloaded or has expired. Search for the song again.")
		return
	}
	defer d.Release()

	name := strings.TrimSpace(c.Param("title"))
	if name == "" {
		name = d.Job.RequestedTitle
	}

	logger.Info().Str("job_id", id).Msg("Serving file")
	c.FileAttachment(d.Path(), name+audioExt)
}

func (s *Server) static(name, title string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, name, gin.H{"Title": title})
	}
}

func renderError(c *gin.Context, status int, heading, message string) {
	c.HTML(status, "error", gin.H{
		"Title":   heading,
		"Heading": heading,
		"Message": message,
	})
}
