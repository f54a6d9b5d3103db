// Package controllerapi wires the controller's Gin router: heartbeat
// ingestion, the worker list, the key->replica mapping endpoint, and a
// health probe.
package controllerapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kvshard/internal/membership"
	"kvshard/internal/placement"
)

// Handler holds the controller's dependencies.
type Handler struct {
	registry *membership.Registry
	replicas int
}

// NewHandler builds a Handler. replicas is R.
func NewHandler(registry *membership.Registry, replicas int) *Handler {
	return &Handler{registry: registry, replicas: replicas}
}

// Register mounts all controller routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/heartbeat", h.Heartbeat)
	r.GET("/workers", h.ListWorkers)
	r.GET("/map", h.Map)
	r.GET("/health", h.Health)
}

type heartbeatRequest struct {
	ID      string `json:"id" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// Heartbeat handles POST /heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.registry.Heartbeat(req.ID, req.Address)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListWorkers handles GET /workers.
func (h *Handler) ListWorkers(c *gin.Context) {
	workers := h.registry.List()
	out := make(gin.H, len(workers))
	for id, addr := range workers {
		out[id] = gin.H{"address": addr}
	}
	c.JSON(http.StatusOK, out)
}

// Map handles GET /map?key=K.
func (h *Handler) Map(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing key"})
		return
	}

	primary, replicas, err := h.registry.Mapping(key, h.replicas)
	if err != nil {
		if errors.Is(err, placement.ErrNoWorkers) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no available workers"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"primary": primary, "replicas": replicas})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "controller up",
		"workers_count": h.registry.Count(),
	})
}
