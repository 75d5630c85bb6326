// Package httpapi wires the public HTTP surface (handshake, profile,
// avatar, equip, websocket upgrade) and the token-gated admin surface onto
// one Echo application.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"cosmowire/server/internal/auth"
	"cosmowire/server/internal/blob"
	"cosmowire/server/internal/config"
	"cosmowire/server/internal/metrics"
	"cosmowire/server/internal/session"
	"cosmowire/server/internal/stateping"
	"cosmowire/server/internal/store"
	"cosmowire/server/internal/users"
	"cosmowire/server/internal/wsconn"
)

// Server is the Echo application serving every HTTP-facing component of the
// spec: the auth handshake, the profile/avatar/equip surface, the admin
// namespace, and the WebSocket upgrade.
type Server struct {
	echo *echo.Echo

	cfg       *config.Loader
	users     *users.Manager
	handshake *auth.Handshake
	registry  *session.Registry
	pings     *stateping.Store
	blobs      *blob.Store
	audit      *store.Store
	ws         *wsconn.Handler
	metrics    *metrics.Registry
	assetsRoot string

	startedAt time.Time
}

// New constructs the Echo app and registers every route. assetsRoot is
// optional: when non-empty, it serves ASSETS_FOLDER/<version>/... as static
// files under /assets.
func New(
	cfg *config.Loader,
	userMgr *users.Manager,
	hs *auth.Handshake,
	registry *session.Registry,
	pings *stateping.Store,
	blobs *blob.Store,
	audit *store.Store,
	ws *wsconn.Handler,
	metricsReg *metrics.Registry,
	assetsRoot string,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{
		echo:      e,
		cfg:       cfg,
		users:     userMgr,
		handshake: hs,
		registry:  registry,
		pings:     pings,
		blobs:     blobs,
		audit:     audit,
		ws:         ws,
		metrics:    metricsReg,
		assetsRoot: assetsRoot,
		startedAt:  time.Now(),
	}
	s.registerRoutes()
	return s
}

// requestLogger logs each request via slog, demoting the noisy /ws and
// /health/ /metrics endpoints to Debug.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path
			fields := []any{
				"method", req.Method,
				"path", path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			switch path {
			case "/ws", "/health", "/metrics":
				slog.Debug("http request", fields...)
			default:
				slog.Info("http request", append(fields, "remote", c.RealIP())...)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/health", echo.WrapHandler(http.HandlerFunc(metrics.Health)))
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	s.echo.GET("/ws", echo.WrapHandler(s.ws))

	api := s.echo.Group("/api")
	api.GET("/auth/id", s.handleAuthID)
	api.GET("/auth/verify", s.handleAuthVerify)
	api.GET("/limits", s.handleLimits)
	api.GET("/version", s.handleVersion)
	api.GET("/motd", s.handleMOTD)
	api.GET("/:uuid", s.handleProfile)
	api.GET("/:uuid/avatar", s.handleAvatarGet)

	authed := api.Group("", s.tokenAuth)
	authed.GET("/", s.handleTokenCheck)
	authed.PUT("/avatar", s.handleAvatarPut)
	authed.DELETE("/avatar", s.handleAvatarDelete)
	authed.POST("/equip", s.handleEquip)

	admin := s.echo.Group("/api/v1", s.adminAuth)
	admin.GET("/verify", s.handleAdminVerify)
	admin.POST("/raw", s.handleAdminRaw)
	admin.POST("/sub/raw", s.handleAdminSubRaw)
	admin.POST("/user/create", s.handleAdminUserCreate)
	admin.POST("/user/:uuid/ban", s.handleAdminUserBan)
	admin.POST("/user/:uuid/unban", s.handleAdminUserUnban)
	admin.GET("/user/list", s.handleAdminUserList)
	admin.GET("/user/sessions", s.handleAdminUserSessions)
	admin.PUT("/avatar/:uuid", s.handleAdminAvatarPut)
	admin.DELETE("/avatar/:uuid", s.handleAdminAvatarDelete)

	if s.assetsRoot != "" {
		s.echo.Static("/assets", s.assetsRoot)
	}
}

// Run starts the Echo server and blocks until ctx is canceled or startup
// fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http server stopped")
		return nil
	}
}
