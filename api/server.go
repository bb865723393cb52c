// Package api exposes workflow submission and inspection over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/ensemble/metrics"
	"github.com/warriorguo/ensemble/types"
)

func NewServer(o types.Orchestrator, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		if he, ok := err.(*echo.HTTPError); ok && he.Code < http.StatusInternalServerError {
			log.Debugf("%s %s: %v", c.Request().Method, c.Request().URL, err)
			return
		}
		log.Errorf("%s %s: %v", c.Request().Method, c.Request().URL, err)
	}
	e.Use(middleware.Recover())
	e.Use(LogHandlerFunc)

	e.GET("/workflows", ListWorkflowsHandler(o))
	e.POST("/workflows", SubmitWorkflowHandler(o))
	e.GET("/workflows/:id", GetWorkflowHandler(o))
	e.GET("/workflows/:id/dot", RenderWorkflowHandler(o))
	e.POST("/workflows/:id/cancel", CancelWorkflowHandler(o))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	return e
}

func LogHandlerFunc(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		begin := time.Now()
		err := next(c)
		log.Debugf("%s %s -> %d in %v", c.Request().Method, c.Request().URL, c.Response().Status, time.Since(begin))
		return err
	}
}

// Serve runs the server until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
