package api

import (
	"fmt"
	"strings"

	"document-qa/internal/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

// NewServer returns an echo instance with middleware and routes registered.
func NewServer(cfg config.ServerConfig, h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("Request")
			return nil
		},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	maxMB := cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 20
	}
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", maxMB)))

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream")
		},
	}))

	RegisterRoutes(e, h)
	return e
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/health", h.HandleHealth)

	sessions := e.Group("/api/sessions")
	sessions.POST("", h.HandleCreateSession)
	sessions.GET("", h.HandleListSessions)
	sessions.GET("/:id", h.HandleGetSession)
	sessions.DELETE("/:id", h.HandleDeleteSession)
	sessions.POST("/:id/document", h.HandleUploadDocument)
	sessions.POST("/:id/questions", h.HandleAskQuestion)
	sessions.GET("/:id/history", h.HandleHistory)
	sessions.GET("/:id/history/msgpack", h.HandleHistoryMsgpack)
	sessions.DELETE("/:id/history", h.HandleClearHistory)
}
