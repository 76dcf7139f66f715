package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"meta-pipeline/internal/downloader"
	"meta-pipeline/internal/service"
)

// Handler wires HTTP routes to the metadata services.
type Handler struct {
	services service.Registry
	gatherer prometheus.Gatherer
	logger   *logrus.Logger
}

func NewHandler(services service.Registry, gatherer prometheus.Gatherer, logger *logrus.Logger) *Handler {
	return &Handler{
		services: services,
		gatherer: gatherer,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware(), h.logRequests())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
		api.POST("/meta/:type/schedule", h.schedule)
		api.GET("/meta/:type/:id", h.getEntry)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		h.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(started),
		}).Debug("http request")
	}
}

func (h *Handler) schedule(c *gin.Context) {
	svc, err := h.services.Get(c.Param("type"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	var req service.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := svc.Schedule(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *Handler) getEntry(c *gin.Context) {
	svc, err := h.services.Get(c.Param("type"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	view, err := svc.Entry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUnknownType), errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, downloader.ErrRouterClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.WithField("path", c.FullPath()).Errorf("request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
