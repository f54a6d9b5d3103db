// Package workerapi wires the worker's Gin router: the client-facing
// KV endpoints (PUT/GET/DELETE), the peer-facing replicate/pull/keys
// endpoints, and health.
package workerapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"kvshard/internal/coordinator"
	"kvshard/internal/store"
)

// Puller fetches a single key's value directly from a peer, used to
// implement the /pull endpoint.
type Puller interface {
	FetchValue(ctx context.Context, source, key string) (value string, ok bool, err error)
}

// Handler holds the worker's dependencies.
type Handler struct {
	store       *store.Store
	coordinator *coordinator.Coordinator
	puller      Puller
	selfID      string
	selfAddress string
}

// NewHandler builds a Handler.
func NewHandler(s *store.Store, c *coordinator.Coordinator, puller Puller, selfID, selfAddress string) *Handler {
	return &Handler{store: s, coordinator: c, puller: puller, selfID: selfID, selfAddress: selfAddress}
}

// Register mounts all worker routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.PUT("/kv/:key", h.Put)
	r.GET("/kv/:key", h.Get)
	r.DELETE("/delete/:key", h.Delete)
	r.POST("/replicate/:key", h.Replicate)
	r.POST("/pull", h.Pull)
	r.GET("/keys", h.ListKeys)
	r.GET("/health", h.Health)
}

type putRequest struct {
	Value string `json:"value" binding:"required"`
}

// Put handles PUT /kv/:key — the client-facing write protocol.
func (h *Handler) Put(c *gin.Context) {
	key := c.Param("key")
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acks, err := h.coordinator.Put(c.Request.Context(), key, req.Value)
	if err != nil {
		if errors.Is(err, coordinator.ErrControllerUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, coordinator.ErrQuorumUnreached) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("write failed; acks=%d", acks)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "ok", "acks": acks})
}

// Get handles GET /kv/:key. No read-repair is performed — the client
// addresses a single replica directly.
func (h *Handler) Get(c *gin.Context) {
	key := c.Param("key")
	value, err := h.store.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

// Delete handles DELETE /delete/:key.
func (h *Handler) Delete(c *gin.Context) {
	key := c.Param("key")
	if err := h.store.Delete(key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "deleted"})
}

// Replicate handles POST /replicate/:key — a peer pushing a value this
// worker should store as one of the key's replicas.
func (h *Handler) Replicate(c *gin.Context) {
	key := c.Param("key")
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Put(key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "replicated"})
}

type pullRequest struct {
	Source string   `json:"source" binding:"required"`
	Keys   []string `json:"keys" binding:"required"`
}

// Pull handles POST /pull — the repair engine instructing this worker
// to pull a set of keys from source. Per-key fetch errors are ignored;
// the response count is the number of keys requested, not the number
// successfully pulled.
func (h *Handler) Pull(c *gin.Context) {
	var req pullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	for _, key := range req.Keys {
		value, ok, err := h.puller.FetchValue(ctx, req.Source, key)
		if err != nil || !ok {
			continue
		}
		_ = h.store.Put(key, value)
	}

	c.JSON(http.StatusOK, gin.H{"result": "pulled", "count": len(req.Keys)})
}

// ListKeys handles GET /keys.
func (h *Handler) ListKeys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"keys": h.store.Keys()})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "worker up",
		"id":          h.selfID,
		"address":     h.selfAddress,
		"stored_keys": h.store.Count(),
	})
}
