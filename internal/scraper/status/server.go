// Package status serves a small read-only HTTP view of a running worker.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"ojscraper/internal/common/http/middleware"
	"ojscraper/internal/scraper/stats"
	"ojscraper/internal/scraper/worker"
	appErr "ojscraper/pkg/errors"
	"ojscraper/pkg/utils/logger"
	"ojscraper/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// WorkerInfo exposes the identity and phase of the poll loop.
type WorkerInfo interface {
	WorkerID() string
	State() worker.State
}

// Config holds status server settings. An empty Addr disables the server.
type Config struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// Response is the data of GET /stats.
type Response struct {
	WorkerID string         `json:"worker_id"`
	State    string         `json:"state"`
	Uptime   string         `json:"uptime"`
	Stats    stats.Snapshot `json:"stats"`
}

type Server struct {
	httpServer *http.Server
}

// NewRouter builds the gin engine serving /healthz and /stats.
func NewRouter(counters *stats.Counters, info WorkerInfo) *gin.Engine {
	started := time.Now()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/stats", func(c *gin.Context) {
		response.Success(c, Response{
			WorkerID: info.WorkerID(),
			State:    info.State().String(),
			Uptime:   time.Since(started).Truncate(time.Second).String(),
			Stats:    counters.Snapshot(),
		})
	})
	router.NoRoute(func(c *gin.Context) {
		response.ErrorWithCode(c, appErr.NotFound, "")
	})
	return router
}

func New(cfg Config, counters *stats.Counters, info WorkerInfo) *Server {
	gin.SetMode(gin.ReleaseMode)
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(counters, info),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
	}
}

// Start listens on the configured address and serves in the background.
// Serve errors other than a clean shutdown are logged.
func (s *Server) Start() (net.Addr, error) {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		logger.Info(context.Background(), "status server started", zap.String("addr", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "status server stopped", zap.Error(err))
		}
	}()
	return listener.Addr(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
