package server

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/danmuck/goes/internal/events"
	"github.com/danmuck/goes/internal/protocol"
	"github.com/danmuck/goes/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const dateLayout = "2006-01-02"

var (
	errNoReader  = errors.New("storage reader not configured")
	errNoStreams = errors.New("channel client not configured")
)

type eventsResponse struct {
	Count  int               `json:"count"`
	Events []events.Envelope `json:"events"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": nodeName,
			"reader":  s.reader != nil,
			"client":  s.streams != nil,
		})
	})

	routes := s.protected()
	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))
	routes.GET("/events", s.handleEvents)
	routes.GET("/streams/:id", s.handleStream)
	routes.GET("/all", s.handleAll)
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.reader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errNoReader.Error()})
		return
	}
	filters := storage.Filters{EventTypes: c.QueryArray("type")}
	if raw := c.Query("date"); raw != "" {
		date, err := time.ParseInLocation(dateLayout, raw, time.UTC)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		filters.Date = date
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	out, err := s.reader.GetAllFor(ctx, filters)
	if err != nil {
		s.fail(c, readerStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, eventsResponse{Count: len(out), Events: out})
}

func (s *Server) handleStream(c *gin.Context) {
	if s.streams == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errNoStreams.Error()})
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	out, err := s.streams.ReadStream(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, clientStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, eventsResponse{Count: len(out), Events: out})
}

func (s *Server) handleAll(c *gin.Context) {
	if s.streams == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errNoStreams.Error()})
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	out, err := s.streams.ReadAll(ctx)
	if err != nil {
		s.fail(c, clientStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, eventsResponse{Count: len(out), Events: out})
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error().Str("path", c.FullPath()).Err(err).Msg("request failed")
	}
	body := gin.H{"error": err.Error()}
	if se, ok := protocol.IsServerError(err); ok {
		body["code"] = se.Code
	}
	c.JSON(status, body)
}

func readerStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func clientStatus(err error) int {
	switch {
	case errors.Is(err, protocol.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
