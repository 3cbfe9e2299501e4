package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/rcm-agent/internal/application/port"
	"github.com/garyjia/rcm-agent/internal/application/service"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
	"github.com/garyjia/rcm-agent/pkg/utils"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// HealthFunc reports component health for the health endpoint
type HealthFunc func() (healthy bool, components interface{})

// Handlers contains all HTTP request handlers
type Handlers struct {
	sessions service.SessionService
	health   HealthFunc
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(sessions service.SessionService, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		health:   health,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// CreateSessionRequest is the optional body of POST /api/sessions
type CreateSessionRequest struct {
	InitialInput string `json:"initial_input"`
	PatientID    string `json:"patient_id"`
}

// MessageRequest is the body of POST /api/sessions/:id/messages
type MessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// ListSessionsRequest represents query parameters for listing sessions
type ListSessionsRequest struct {
	Limit int `form:"limit"`
}

// HistoryResponse represents one step transition in API responses
type HistoryResponse struct {
	FromStep   string   `json:"from_step"`
	ToStep     string   `json:"to_step"`
	Status     string   `json:"status"`
	Confidence *float64 `json:"confidence,omitempty"`
	Note       string   `json:"note,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// SessionListItem represents an open session in API responses
type SessionListItem struct {
	SessionID     string `json:"session_id"`
	Step          string `json:"workflow_step"`
	Status        string `json:"status"`
	NeedUserInput bool   `json:"need_user_input"`
	UpdatedAt     string `json:"updated_at"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
	}

	status := http.StatusOK
	if h.health != nil {
		healthy, components := h.health()
		response.Components = components
		if !healthy {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// CreateSession handles POST /api/sessions
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, "invalid request body", err)
		return
	}
	if err := utils.ValidatePatientID(req.PatientID); err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}
	if len(req.InitialInput) > 0 {
		if err := utils.ValidateMessage(req.InitialInput); err != nil {
			h.badRequest(c, err.Error(), err)
			return
		}
	}

	r, err := h.sessions.Create(c.Request.Context(), utils.SanitizeString(req.InitialInput), req.PatientID)
	if err != nil {
		h.fail(c, "Failed to create session", "", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    r.Summarize(),
	})
}

// SendMessage handles POST /api/sessions/:id/messages
func (h *Handlers) SendMessage(c *gin.Context) {
	sessionID := c.Param("id")

	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "message is required", err)
		return
	}
	if err := utils.ValidateMessage(req.Message); err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}

	r, err := h.sessions.Turn(c.Request.Context(), sessionID, utils.SanitizeString(req.Message))
	h.respondRecord(c, "Failed to process message", sessionID, r, err)
}

// GetSession handles GET /api/sessions/:id
func (h *Handlers) GetSession(c *gin.Context) {
	sessionID := c.Param("id")
	r, err := h.sessions.Get(c.Request.Context(), sessionID)
	h.respondRecord(c, "Failed to get session", sessionID, r, err)
}

// GetHistory handles GET /api/sessions/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	sessionID := c.Param("id")

	history, err := h.sessions.History(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, "Failed to get history", sessionID, err)
		return
	}

	items := make([]HistoryResponse, 0, len(history))
	for _, entry := range history {
		items = append(items, toHistoryResponse(entry))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    items,
	})
}

// RetrySession handles POST /api/sessions/:id/retry
func (h *Handlers) RetrySession(c *gin.Context) {
	sessionID := c.Param("id")
	r, err := h.sessions.Retry(c.Request.Context(), sessionID)
	h.respondRecord(c, "Failed to retry session", sessionID, r, err)
}

// RestartSession handles POST /api/sessions/:id/restart
func (h *Handlers) RestartSession(c *gin.Context) {
	sessionID := c.Param("id")
	r, err := h.sessions.Restart(c.Request.Context(), sessionID)
	h.respondRecord(c, "Failed to restart session", sessionID, r, err)
}

// ExitSession handles POST /api/sessions/:id/exit
func (h *Handlers) ExitSession(c *gin.Context) {
	sessionID := c.Param("id")
	r, err := h.sessions.Exit(c.Request.Context(), sessionID)
	h.respondRecord(c, "Failed to exit session", sessionID, r, err)
}

// ListSessions handles GET /api/sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	var req ListSessionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}

	// Set defaults
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}

	records, err := h.sessions.ListActive(c.Request.Context(), req.Limit)
	if err != nil {
		h.fail(c, "Failed to list sessions", "", err)
		return
	}

	items := make([]SessionListItem, 0, len(records))
	for _, r := range records {
		items = append(items, SessionListItem{
			SessionID:     r.SessionID,
			Step:          string(r.Step),
			Status:        string(r.Status),
			NeedUserInput: r.NeedUserInput,
			UpdatedAt:     r.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    items,
	})
}

func (h *Handlers) respondRecord(c *gin.Context, msg, sessionID string, r *domainwf.Record, err error) {
	if err != nil {
		h.fail(c, msg, sessionID, err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    r.Summarize(),
	})
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Error("Invalid request", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
	})
}

// fail maps service errors onto HTTP status codes
func (h *Handlers) fail(c *gin.Context, msg, sessionID string, err error) {
	switch {
	case errors.Is(err, domainwf.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "session not found"})
	case errors.Is(err, domainwf.ErrSessionClosed):
		c.JSON(http.StatusConflict, Response{Success: false, Error: "session is closed"})
	default:
		h.logger.Error(msg, "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
	}
}

// toHistoryResponse converts a step transition to API response
func toHistoryResponse(entry *port.StepHistory) HistoryResponse {
	return HistoryResponse{
		FromStep:   string(entry.FromStep),
		ToStep:     string(entry.ToStep),
		Status:     string(entry.Status),
		Confidence: entry.Confidence,
		Note:       entry.Note,
		CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}
