package admin

import (
	"bytes"
	"context"
	"encoding/json"
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

	"github.com/andydunstall/setdb/node/config"
	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/middleware"
	"github.com/andydunstall/setdb/pkg/record"
	"github.com/andydunstall/setdb/pkg/replication"
	"github.com/andydunstall/setdb/pkg/status"
)

const (
	// maxRecordSize is the maximum size of a written record.
	maxRecordSize = 1 << 20
)

// RecordStore is the replicated set of records served by the admin API.
type RecordStore interface {
	Put(ctx context.Context, v any) (bool, error)
	Get(key string) (record.Record, bool)
	Query(pred func(r record.Record) bool) []record.Record
}

// PutRecordResponse is the response to writing a record.
type PutRecordResponse struct {
	// Added is whether the record was added to the set. A record isn't added
	// if it has no key, its key already exists or it fails validation.
	Added bool `json:"added"`
}

// Server is the node admin HTTP server, which exposes endpoints to read and
// write records, plus endpoints for metrics, health and inspecting the node
// status.
type Server struct {
	records RecordStore

	registry *prometheus.Registry

	httpServer *http.Server

	router *gin.Engine

	logger log.Logger
}

func NewServer(
	records RecordStore,
	conf config.AdminConfig,
	registry *prometheus.Registry,
	logger log.Logger,
) *Server {
	logger = logger.WithSubsystem("node.admin")

	router := gin.New()
	server := &Server{
		records:  records,
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
		metrics := middleware.NewMetrics("admin")
		metrics.Register(registry)
		router.Use(metrics.Handler())
	}

	server.registerRoutes(router)

	return server
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info(
		"starting admin server",
		zap.String("addr", ln.Addr().String()),
	)

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown attempts to gracefully shutdown the server by waiting for pending
// requests to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) AddStatus(route string, handler status.Handler) {
	group := s.router.Group("/status").Group(route)
	handler.Register(group)
}

func (s *Server) registerRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")
	v1.GET("/records", s.listRecordsRoute)
	v1.GET("/records/:id", s.getRecordRoute)
	v1.POST("/records", s.putRecordRoute)

	router.GET("/health", s.healthRoute)

	if s.registry != nil {
		router.GET("/metrics", s.metricsHandler())
	}
}

// listRecordsRoute returns the records in key order. Query parameters filter
// records by field, such as '?name=foo' only returns records whose 'name'
// field is 'foo'.
func (s *Server) listRecordsRoute(c *gin.Context) {
	filters := c.Request.URL.Query()

	records := s.records.Query(func(r record.Record) bool {
		for field := range filters {
			v, ok := record.Key(r, field)
			if !ok || v != filters.Get(field) {
				return false
			}
		}
		return true
	})
	if records == nil {
		records = []record.Record{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) getRecordRoute(c *gin.Context) {
	id := c.Param("id")
	r, ok := s.records.Get(id)
	if !ok {
		c.JSON(
			http.StatusNotFound,
			status.NewErrorInfo(http.StatusNotFound, "record not found"),
		)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) putRecordRoute(c *gin.Context) {
	b, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRecordSize))
	if err != nil {
		c.JSON(
			http.StatusRequestEntityTooLarge,
			status.NewErrorInfo(http.StatusRequestEntityTooLarge, "record too large"),
		)
		return
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var r map[string]any
	if err := dec.Decode(&r); err != nil || r == nil {
		c.JSON(
			http.StatusBadRequest,
			status.NewErrorInfo(http.StatusBadRequest, "record must be a json object"),
		)
		return
	}

	added, err := s.records.Put(c.Request.Context(), r)
	if err != nil {
		if errors.Is(err, replication.ErrClosed) {
			c.JSON(
				http.StatusServiceUnavailable,
				status.NewErrorInfo(http.StatusServiceUnavailable, "node shutting down"),
			)
			return
		}
		s.logger.Warn("failed to put record", zap.Error(err))
		c.JSON(
			http.StatusInternalServerError,
			status.NewErrorInfo(http.StatusInternalServerError, "put record"),
		)
		return
	}

	c.JSON(http.StatusOK, &PutRecordResponse{Added: added})
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
