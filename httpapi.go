package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// APIServer is a minimal REST plane alongside the WebSocket listener: a
// health check and a status summary.
type APIServer struct {
	e *echo.Echo
	h *hub
}

func NewAPIServer(h *hub) *APIServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[httpapi] %s %d %s", v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	api := &APIServer{e: e, h: h}
	api.registerRoutes()
	return api
}

func (a *APIServer) registerRoutes() {
	a.e.GET("/healthz", a.handleHealth)
	a.e.GET("/status", a.handleStatus)
}

func (a *APIServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Sessions int `json:"sessions"`
}

func (a *APIServer) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{Sessions: len(a.h.sessionsSnapshot())})
}

// Run starts the REST listener and blocks until ctx is canceled.
func (a *APIServer) Run(ctx context.Context, addr string) error {
	go func() {
		if err := a.e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("[httpapi] %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.e.Shutdown(shutdownCtx)
}
