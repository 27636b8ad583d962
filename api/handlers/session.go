// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agent-console/backend/internal/model"
	"github.com/agent-console/backend/internal/session"
)

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	registry *session.Registry
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *session.Registry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendRegistryError maps registry sentinel errors to HTTP responses.
func sendRegistryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrSessionNotRunning):
		sendError(c, http.StatusConflict, "SESSION_NOT_RUNNING", err.Error())
	case errors.Is(err, model.ErrSessionRunning):
		sendError(c, http.StatusConflict, "SESSION_RUNNING", err.Error())
	case errors.Is(err, model.ErrSessionLimit):
		sendError(c, http.StatusTooManyRequests, "LIMIT_EXCEEDED", err.Error())
	case errors.Is(err, model.ErrWorkingDirRequired), errors.Is(err, model.ErrWorkingDirInvalid):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// Create handles POST /api/sessions - creates a new session without
// spawning a process.
func (h *SessionHandler) Create(c *gin.Context) {
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	view, err := h.registry.Create(c.Request.Context(), &req)
	if err != nil {
		sendRegistryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// List handles GET /api/sessions - lists all sessions.
func (h *SessionHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.List())
}

// Get handles GET /api/sessions/:id - gets a specific session.
func (h *SessionHandler) Get(c *gin.Context) {
	view, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Start handles POST /api/sessions/:id/start - spawns the session process.
func (h *SessionHandler) Start(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Start(c.Request.Context(), id); err != nil {
		sendRegistryError(c, err)
		return
	}
	view, err := h.registry.Get(id)
	if err != nil {
		sendRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Stop handles POST /api/sessions/:id/stop - force-terminates the process.
func (h *SessionHandler) Stop(c *gin.Context) {
	if err := h.registry.Stop(c.Param("id")); err != nil {
		sendRegistryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /api/sessions/:id - deletes a session and all of
// its state.
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		sendRegistryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetLogs handles GET /api/sessions/:id/logs - returns buffered log entries
// in append order. The optional limit query selects the most recent N.
func (h *SessionHandler) GetLogs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := h.registry.Logs(c.Param("id"), limit)
	if err != nil {
		sendRegistryError(c, err)
		return
	}
	if entries == nil {
		entries = []model.LogEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// GetRecording handles GET /api/sessions/:id/cast - downloads the session's
// asciinema recording.
func (h *SessionHandler) GetRecording(c *gin.Context) {
	id := c.Param("id")
	path, err := h.registry.RecordingPath(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "No recording for session "+id)
			return
		}
		sendRegistryError(c, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "No recording for session "+id)
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+id+".cast")
	c.File(path)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.POST("/:id/start", h.Start)
		sessions.POST("/:id/stop", h.Stop)
		sessions.DELETE("/:id", h.Delete)
		sessions.GET("/:id/logs", h.GetLogs)
		sessions.GET("/:id/cast", h.GetRecording)
	}
}
