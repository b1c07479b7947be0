// Package controlplane exposes the session manager over HTTP.
package controlplane

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/betbot/dicebot/internal/account"
	"github.com/betbot/dicebot/internal/metrics"
	"github.com/betbot/dicebot/internal/rules"
	"github.com/betbot/dicebot/internal/session"
	"github.com/betbot/dicebot/pkg/logger"
)

// Sessions 控制面需要的会话操作（session.Manager 实现）
type Sessions interface {
	StartSession(ctx context.Context) (session.Status, error)
	StopSession() error
	Status() (session.Status, error)
}

type Config struct {
	Addr string
	// StartTimeout 限制一次启动（握手）的时长
	StartTimeout time.Duration
}

type Server struct {
	cfg      Config
	sessions Sessions
	rules    *rules.Store
	srv      *http.Server
}

func New(cfg Config, sessions Sessions, store *rules.Store) *Server {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	s := &Server{cfg: cfg, sessions: sessions, rules: store}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	sess := api.Group("/session")
	sess.GET("", s.handleStatus)
	sess.POST("/start", s.handleStart)
	sess.POST("/stop", s.handleStop)
	api.GET("/rules", s.handleRules)
	api.GET("/metrics", func(c *gin.Context) { c.JSON(http.StatusOK, metrics.Snapshot()) })

	r.GET("/debug/vars", gin.WrapH(metrics.Handler()))
	return r
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.sessions.Status()
	if err != nil && !errors.Is(err, session.ErrNotRunning) {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleStart(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.StartTimeout)
	defer cancel()
	st, err := s.sessions.StartSession(ctx)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.sessions.StopSession(); err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	st, _ := s.sessions.Status()
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleRules(c *gin.Context) {
	cfg := s.rules.Current()
	if cfg == nil {
		writeError(c, http.StatusServiceUnavailable, errors.New("rules are not loaded"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"source":   cfg.Source,
		"loadedAt": cfg.LoadedAt,
		"document": cfg.Document(),
	})
}

// statusFor maps start errors to HTTP status codes.
func statusFor(err error) int {
	var mce *account.MissingCredentialsError
	var ce *rules.ConfigError
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoUserSelected), errors.As(err, &mce):
		return http.StatusPreconditionFailed
	case errors.As(err, &ce):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func writeError(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"error": err.Error()})
}

// ListenAndServe blocks until Shutdown.
// ListenAndServe blocks until Shutdown; a Shutdown that comes first makes
// it return nil right away.
func (s *Server) ListenAndServe() error {
	logger.Infof("控制面监听: %s", s.cfg.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
