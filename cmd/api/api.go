package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/cache"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/database"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/middleware"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/preset"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/queue"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/timeline"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/transcoder"
)

// API holds the services behind the HTTP handlers
type API struct {
	store     database.Store
	queue     *queue.Queue
	timelines *timeline.Service
	presets   *preset.Registry
	exports   *transcoder.Service
	cache     *cache.Cache // nil when Redis is disabled
	logger    *logging.Logger
	closers   []func() error
}

func (api *API) close() {
	for i := len(api.closers) - 1; i >= 0; i-- {
		if err := api.closers[i](); err != nil {
			api.logger.WarnWithErr("Failed to close dependency", err)
		}
	}
	api.closers = nil
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// Check database health
	if err := api.store.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	status := gin.H{"status": "healthy", "database": "ok"}
	if api.cache != nil {
		if err := api.cache.Ping(ctx); err != nil {
			// progress reads fall back to the queue
			status["cache"] = err.Error()
		} else {
			status["cache"] = "ok"
		}
	}
	c.JSON(http.StatusOK, status)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, exporterr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exporterr.ErrLocked),
		errors.Is(err, exporterr.ErrTimelineConflict),
		errors.Is(err, exporterr.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, queue.ErrStopped):
		return http.StatusServiceUnavailable
	case exporterr.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (api *API) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		api.logger.WithRequestID(middleware.GetRequestID(c)).ErrorWithErr("Request failed", err)
		metrics.RecordError("api", string(exporterr.KindOf(err)))
	}
	body := gin.H{"error": err.Error()}
	if status == http.StatusUnprocessableEntity || status == http.StatusInternalServerError {
		body["kind"] = exporterr.KindOf(err)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
