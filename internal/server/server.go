package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"relaybot/internal/handler"
	"relaybot/internal/middleware"
	"relaybot/internal/repository"
	"relaybot/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

var _ Pinger = (*sqlx.DB)(nil)

type Server struct {
	router *gin.Engine
	db     Pinger
	store  repository.Store
	auth   service.AuthService
	logger *zap.Logger
}

// NewServer builds the operator HTTP surface. The admin API is mounted only
// when auth is not nil.
func NewServer(db Pinger, store repository.Store, auth service.AuthService, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog(logger))

	s := &Server{
		router: router,
		db:     db,
		store:  store,
		auth:   auth,
		logger: logger,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.auth == nil {
		return
	}

	authHandler := handler.NewAuthHandler(s.auth, s.logger)
	moderationHandler := handler.NewModerationHandler(s.store, s.logger)

	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/login", authHandler.Login)

	authRequired := s.router.Group("/api")
	authRequired.Use(middleware.AuthMiddleware(s.auth, s.logger))
	{
		authRequired.GET("/stats", moderationHandler.Stats)
		authRequired.GET("/bans", moderationHandler.ListBans)
		authRequired.PUT("/bans/:user_id", moderationHandler.Ban)
		authRequired.DELETE("/bans/:user_id", moderationHandler.Unban)
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Server shutting down")
	return srv.Shutdown(shutdownCtx)
}
