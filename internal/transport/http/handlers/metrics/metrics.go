package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler handles the Prometheus metrics endpoint.
type Handler struct{}

// NewHandler creates a new metrics handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Handle serves Prometheus-format metrics.
func (h *Handler) Handle(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}
