// Package api exposes the action registry over HTTP for the monitor UI and
// for executors that prefer JSON to the TCP protocol.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llmos-dev/llmos-actions/internal/engine"
	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

type Handler struct {
	Registry *engine.Registry
	// Archiver is optional; without it /api/archive returns an empty list.
	Archiver     *engine.Archiver
	DefaultLevel schema.AutonomyLevel
	Logger       *zap.Logger
}

// Register mounts every route under /api on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api")
	{
		g.GET("/actions", h.ListActions)
		g.GET("/actions/:id", h.GetAction)
		g.POST("/actions", h.EmitAction)
		g.POST("/actions/:id/approve", h.Approve)
		g.POST("/actions/:id/reject", h.Reject)
		g.POST("/actions/:id/complete", h.Complete)
		g.POST("/actions/:id/fail", h.Fail)
		g.POST("/cleanup", h.Cleanup)
		g.GET("/policy", h.Policy)
		g.GET("/archive", h.Archive)
		g.GET("/stream", h.Stream)
	}
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) defaultLevel() schema.AutonomyLevel {
	if !h.DefaultLevel.Valid() {
		return schema.LevelGuarded
	}
	return h.DefaultLevel
}

// writeError maps registry errors to status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrActionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrTerminalState), errors.Is(err, engine.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) ListActions(c *gin.Context) {
	status := c.Query("status")
	if status == "" {
		c.JSON(http.StatusOK, h.Registry.GetActions())
		return
	}
	s := schema.Status(status)
	if !s.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + status})
		return
	}
	c.JSON(http.StatusOK, h.Registry.GetActionsByStatus(s))
}

func (h *Handler) GetAction(c *gin.Context) {
	rec, err := h.Registry.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) EmitAction(c *gin.Context) {
	var req engine.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.Registry.Submit(req, h.defaultLevel())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Approve(c *gin.Context) {
	rec, err := h.Registry.ApproveAction(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) Reject(c *gin.Context) {
	var input struct {
		Reason string `json:"reason"`
	}
	// an empty body rejects without a reason
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	rec, err := h.Registry.RejectAction(c.Param("id"), input.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) Complete(c *gin.Context) {
	var input struct {
		Result any `json:"result"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	rec, err := h.Registry.CompleteAction(c.Param("id"), input.Result)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) Fail(c *gin.Context) {
	var input struct {
		Error string `json:"error" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.Registry.FailAction(c.Param("id"), input.Error)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) Cleanup(c *gin.Context) {
	var input struct {
		KeepLast *int `json:"keep_last" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *input.KeepLast < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keep_last must not be negative"})
		return
	}
	dropped := h.Registry.Cleanup(*input.KeepLast)
	h.logger().Info("log trimmed", zap.Int("dropped", dropped), zap.Int("keep_last", *input.KeepLast))
	c.JSON(http.StatusOK, gin.H{"dropped": dropped, "remaining": h.Registry.Len()})
}

// Policy answers "would this action need approval" without emitting anything.
func (h *Handler) Policy(c *gin.Context) {
	kind := schema.Kind(c.Query("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind " + string(kind)})
		return
	}
	source := schema.Source(c.DefaultQuery("source", string(schema.SourceApp)))
	if !source.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown source " + string(source)})
		return
	}
	level := h.defaultLevel()
	if raw := c.Query("level"); raw != "" {
		l, err := schema.ParseAutonomyLevel(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		level = l
	}
	c.JSON(http.StatusOK, gin.H{
		"kind":              kind,
		"source":            source,
		"autonomy_level":    level,
		"requires_approval": engine.RequiresApproval(kind, source, level),
	})
}

func (h *Handler) Archive(c *gin.Context) {
	if h.Archiver == nil {
		c.JSON(http.StatusOK, []schema.ActionRecord{})
		return
	}
	records, err := h.Archiver.LoadAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []schema.ActionRecord{}
	}
	c.JSON(http.StatusOK, records)
}
