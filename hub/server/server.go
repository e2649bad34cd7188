package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/andydunstall/setdb/hub/config"
	"github.com/andydunstall/setdb/hub/relay"
	"github.com/andydunstall/setdb/pkg/blob"
	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/middleware"
	"github.com/andydunstall/setdb/pkg/status"
)

// Server is the hub HTTP server, which exposes endpoints for nodes to
// gossip and to upload and fetch snapshots, plus endpoints for metrics,
// health and inspecting the hub status.
type Server struct {
	relay *relay.Relay
	blobs blob.Store

	registry *prometheus.Registry

	httpServer *http.Server

	router *gin.Engine

	logger log.Logger
}

func NewServer(
	relay *relay.Relay,
	blobs blob.Store,
	conf config.HTTPConfig,
	registry *prometheus.Registry,
	logger log.Logger,
) *Server {
	logger = logger.WithSubsystem("hub")

	router := gin.New()
	server := &Server{
		relay:    relay,
		blobs:    blobs,
		registry: registry,
		httpServer: &http.Server{
			Handler:  router,
			ErrorLog: logger.StdLogger(zapcore.WarnLevel),
		},
		router: router,
		logger: logger,
	}

	// Recover from panics.
	router.Use(gin.CustomRecoveryWithWriter(nil, server.panicRoute))

	router.Use(middleware.NewLogger(conf.AccessLog, logger))

	if registry != nil {
		metrics := middleware.NewMetrics("hub")
		metrics.Register(registry)
		router.Use(metrics.Handler())
	}

	server.registerRoutes(router)

	return server
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info(
		"starting hub server",
		zap.String("addr", ln.Addr().String()),
	)

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown attempts to gracefully shutdown the server by waiting for pending
// requests to complete.
//
// Pub/sub connections are closed immediately, since they're long lived.
func (s *Server) Shutdown(ctx context.Context) error {
	s.relay.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) AddStatus(route string, handler status.Handler) {
	group := s.router.Group("/status").Group(route)
	handler.Register(group)
}

func (s *Server) registerRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")
	v1.GET("/pubsub", s.relay.Handler)
	v1.PUT("/blobs", s.putBlobRoute)
	v1.GET("/blobs/:hash", s.getBlobRoute)

	router.GET("/health", s.healthRoute)

	if s.registry != nil {
		router.GET("/metrics", s.metricsHandler())
	}
}

func (s *Server) putBlobRoute(c *gin.Context) {
	b, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, blob.MaxSize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			c.JSON(
				http.StatusRequestEntityTooLarge,
				status.NewErrorInfo(http.StatusRequestEntityTooLarge, "blob too large"),
			)
			return
		}
		c.JSON(
			http.StatusBadRequest,
			status.NewErrorInfo(http.StatusBadRequest, "read body"),
		)
		return
	}

	hash, err := s.blobs.Put(c.Request.Context(), b)
	if err != nil {
		s.logger.Warn("failed to put blob", zap.Error(err))
		c.JSON(
			http.StatusInternalServerError,
			status.NewErrorInfo(http.StatusInternalServerError, "put blob"),
		)
		return
	}

	s.logger.Debug(
		"put blob",
		zap.String("hash", hash),
		zap.Int("size", len(b)),
	)

	c.JSON(http.StatusOK, &blob.PutResponse{Hash: hash})
}

func (s *Server) getBlobRoute(c *gin.Context) {
	hash := c.Param("hash")
	if !blob.ValidHash(hash) {
		c.JSON(
			http.StatusBadRequest,
			status.NewErrorInfo(http.StatusBadRequest, "invalid hash"),
		)
		return
	}

	b, err := s.blobs.Get(c.Request.Context(), hash)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			c.JSON(
				http.StatusNotFound,
				status.NewErrorInfo(http.StatusNotFound, "blob not found"),
			)
			return
		}

		s.logger.Warn("failed to get blob", zap.String("hash", hash), zap.Error(err))
		c.JSON(
			http.StatusInternalServerError,
			status.NewErrorInfo(http.StatusInternalServerError, "get blob"),
		)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", b)
}

func (s *Server) healthRoute(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (s *Server) panicRoute(c *gin.Context, err any) {
	s.logger.Error(
		"handler panic",
		zap.String("path", c.FullPath()),
		zap.Any("err", err),
	)
	c.AbortWithStatus(http.StatusInternalServerError)
}

func (s *Server) metricsHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(
		s.registry,
		promhttp.HandlerOpts{Registry: s.registry},
	)
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func init() {
	// Disable Gin debug logs.
	gin.SetMode(gin.ReleaseMode)
}
