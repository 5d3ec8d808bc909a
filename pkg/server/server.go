// Package server exposes sessions over HTTP: a small REST API for memory
// management and blocking calls, and a WebSocket endpoint that streams
// replies fragment by fragment.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Server struct {
	echo      *echo.Echo
	registry  *Registry
	jwtSecret []byte
	upgrader  websocket.Upgrader
}

type Option func(*Server)

// WithJWTSecret protects the session routes with HS256 bearer tokens.
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.jwtSecret = []byte(secret)
		}
	}
}

func New(registry *Registry, options ...Option) *Server {
	ret := &Server{
		echo:     echo.New(),
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, o := range options {
		o(ret)
	}

	e := ret.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("10M"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", ret.health)

	sessions := api.Group("/sessions")
	if ret.jwtSecret != nil {
		sessions.Use(JWTMiddleware(ret.jwtSecret))
	}
	sessions.GET("", ret.listSessions)
	sessions.POST("", ret.createSession)
	sessions.DELETE("/:id", ret.deleteSession)
	sessions.GET("/:id/memory", ret.getMemory)
	sessions.PUT("/:id/memory", ret.setMemory)
	sessions.DELETE("/:id/memory", ret.clearMemory)
	sessions.PUT("/:id/system-prompt", ret.modifySystemPrompt)
	sessions.POST("/:id/chat", ret.chat)
	sessions.POST("/:id/prompt", ret.prompt)
	sessions.GET("/:id/ws", ret.serveWebsocket)

	return ret
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on address until ctx is cancelled.
func (s *Server) Run(ctx context.Context, address string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", address).Msg("starting server")
		errCh <- s.echo.Start(address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("shutting down server")
		return s.echo.Shutdown(shutdownCtx)
	}
}

// toHTTPError maps domain errors to status codes.
func toHTTPError(err error) *echo.HTTPError {
	code := http.StatusInternalServerError
	switch {
	case conversation.IsValidationError(err):
		code = http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		code = http.StatusConflict
	case engine.IsLoadError(err):
		code = http.StatusServiceUnavailable
	case engine.IsRuntimeError(err):
		code = http.StatusBadGateway
	}
	return echo.NewHTTPError(code, err.Error())
}
