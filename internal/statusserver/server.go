// Package statusserver exposes the quota tables, notifications and live
// store changes over a local HTTP listener.
package statusserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/j-veylop/cpamc/internal/logger"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services"
)

// Server serves the local status API.
type Server struct {
	mgr      *services.Manager
	router   *gin.Engine
	srv      *http.Server
	upgrader websocket.Upgrader
}

// New builds the router for mgr. Nothing listens until Start.
func New(mgr *services.Manager, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(mgr.Metrics().Middleware())
	router.Use(requestLogger())

	s := &Server{
		mgr:    mgr,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameHost,
		},
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

// Handler returns the gin router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", s.mgr.Metrics().GinHandler())
	s.router.GET("/ws", s.stream)

	api := s.router.Group("/api")
	{
		api.GET("/accounts", s.listAccounts)
		api.GET("/notifications", s.listNotifications)
		api.GET("/quota/:family", s.quotaTable)
		api.POST("/quota/:family/:account/refresh", s.refresh)
	}
}

// Start listens in the background. The returned error reports bind failures.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	logger.Info("status server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the listener and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	stats := s.mgr.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"accounts": stats.AccountCount,
		"loaded":   stats.Loaded,
		"loading":  stats.Loading,
		"errors":   stats.Errors,
	})
}

func (s *Server) listAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.mgr.Accounts().Accounts()})
}

func (s *Server) listNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": s.mgr.Notifications().List()})
}

func (s *Server) quotaTable(c *gin.Context) {
	family, ok := quota.ParseFamily(c.Param("family"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown family"})
		return
	}
	if family == quota.FamilyClaude {
		c.JSON(http.StatusOK, gin.H{"family": family, "accounts": s.mgr.Claude().Table()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"family": family, "accounts": s.mgr.QuotaTable(family)})
}

func (s *Server) refresh(c *gin.Context) {
	family, ok := quota.ParseFamily(c.Param("family"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown family"})
		return
	}
	key := c.Param("account")

	var (
		status any
		err    error
	)
	if family == quota.FamilyClaude {
		status, err = s.mgr.Claude().Refresh(c.Request.Context(), key)
	} else {
		status, err = s.mgr.RefreshQuota(c.Request.Context(), family, key)
	}
	if errors.Is(err, services.ErrUnknownAccount) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	// A failed fetch is still a stored record; report it with the record.
	c.JSON(http.StatusOK, gin.H{"family": family, "account": key, "status": status})
}

// requestLogger logs each request through the application logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("status request", args...)
		case c.Writer.Status() >= 400:
			logger.Warn("status request", args...)
		default:
			logger.Debug("status request", args...)
		}
	}
}
