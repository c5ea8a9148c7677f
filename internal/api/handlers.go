// Package api wires up the Gin HTTP router with all handler functions for
// the coordinator's request surface (spec §4.7).
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"filesync-coordinator/internal/coordinator"
	"filesync-coordinator/internal/errs"
)

// Handler holds the coordinator every route delegates to.
type Handler struct {
	coord *coordinator.Coordinator
}

// NewHandler creates a Handler.
func NewHandler(c *coordinator.Coordinator) *Handler {
	return &Handler{coord: c}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	nodes := r.Group("/nodes")
	nodes.POST("", h.RegisterNode)
	nodes.GET("", h.ListNodes)
	nodes.GET("/:id", h.GetNode)
	nodes.DELETE("/:id", h.RemoveNode)
	nodes.POST("/:id/heartbeat", h.Heartbeat)

	files := r.Group("/files")
	files.POST("", h.UploadFile)
	files.GET("", h.ListFiles)
	files.GET("/:id", h.GetFile)
	files.GET("/:id/content", h.DownloadFile)
	files.GET("/:id/chunks", h.GetFileChunks)
	files.GET("/:id/history", h.GetFileHistory)
	files.DELETE("/:id", h.DeleteFile)
	files.POST("/:id/restore/:version_id", h.RestoreVersion)
	files.POST("/:id/delta-sync", h.ApplyDeltaSync)

	conflicts := r.Group("/conflicts")
	conflicts.GET("", h.ListConflicts)
	conflicts.POST("/:id/resolve", h.ResolveConflict)
	conflicts.POST("/detect/:file_id", h.DetectConflicts)

	events := r.Group("/events")
	events.GET("", h.ListEvents)
	events.GET("/causal", h.ListCausalEvents)

	r.GET("/metrics", h.GetMetrics)
	r.GET("/topology", h.GetTopology)

	r.GET("/ws/dashboard", h.ServeDashboardWS)
	r.GET("/ws/nodes/:id", h.ServeNodeWS)
}

func writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.BadRequest:
		status = http.StatusBadRequest
	case errs.Conflict:
		status = http.StatusConflict
	case errs.Timeout:
		status = http.StatusGatewayTimeout
	case errs.InvariantViolation:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"status":  "error",
		"kind":    string(errs.KindOf(err)),
		"message": err.Error(),
		"error":   err.Error(),
	})
}

// ─── Node handlers ──────────────────────────────────────────────────────

func (h *Handler) RegisterNode(c *gin.Context) {
	var req coordinator.RegisterNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.coord.RegisterNode(c.Request.Context(), req)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListNodes(c *gin.Context) {
	nodes, err := h.coord.ListNodes(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (h *Handler) GetNode(c *gin.Context) {
	n, err := h.coord.GetNode(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) RemoveNode(c *gin.Context) {
	if err := h.coord.RemoveNode(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Heartbeat(c *gin.Context) {
	if err := h.coord.Heartbeat(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ─── File handlers ──────────────────────────────────────────────────────

func (h *Handler) UploadFile(c *gin.Context) {
	var req coordinator.UploadFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.coord.UploadFile(c.Request.Context(), req)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListFiles(c *gin.Context) {
	includeDeleted := c.Query("include_deleted") == "true"
	if owner := c.Query("owner"); owner != "" {
		files, err := h.coord.ListFilesByNode(c.Request.Context(), owner, includeDeleted)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"files": files})
		return
	}
	files, err := h.coord.ListFiles(c.Request.Context(), includeDeleted)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handler) GetFile(c *gin.Context) {
	f, err := h.coord.GetFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *Handler) DownloadFile(c *gin.Context) {
	meta, data, err := h.coord.DownloadFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Header("X-Content-Hash", meta.ContentHash)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (h *Handler) GetFileChunks(c *gin.Context) {
	sigs, err := h.coord.GetFileChunks(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunks": sigs})
}

func (h *Handler) GetFileHistory(c *gin.Context) {
	hist, err := h.coord.GetFileHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (h *Handler) DeleteFile(c *gin.Context) {
	requester := c.Query("requester_id")
	if err := h.coord.DeleteFile(c.Request.Context(), c.Param("id"), requester); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) RestoreVersion(c *gin.Context) {
	requester := c.Query("requester_id")
	v, err := h.coord.RestoreVersion(c.Request.Context(), c.Param("id"), c.Param("version_id"), requester)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) ApplyDeltaSync(c *gin.Context) {
	var req coordinator.DeltaSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.FileID = c.Param("id")
	res, err := h.coord.ApplyDeltaSync(c.Request.Context(), req)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ─── Conflict handlers ──────────────────────────────────────────────────

func (h *Handler) ListConflicts(c *gin.Context) {
	conflicts, err := h.coord.ListConflicts(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

func (h *Handler) DetectConflicts(c *gin.Context) {
	found, err := h.coord.DetectConflicts(c.Request.Context(), c.Param("file_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": found})
}

func (h *Handler) ResolveConflict(c *gin.Context) {
	var body struct {
		Strategy          string `json:"strategy" binding:"required"`
		ResolvedVersionID string `json:"resolved_version_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.coord.ResolveConflict(c.Request.Context(), c.Param("id"), body.Strategy, body.ResolvedVersionID); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ─── Event / metrics handlers ───────────────────────────────────────────

func (h *Handler) ListEvents(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	events, err := h.coord.ListEvents(c.Request.Context(), limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) ListCausalEvents(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	events, err := h.coord.ListCausalEvents(c.Request.Context(), limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) GetMetrics(c *gin.Context) {
	metrics, err := h.coord.GetMetrics(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

func (h *Handler) GetTopology(c *gin.Context) {
	topo, err := h.coord.GetTopology(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, topo)
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
