package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wuhu/studio/internal/module/studio/download"
	"github.com/wuhu/studio/internal/module/studio/orchestrator"
	"github.com/wuhu/studio/internal/module/studio/service"
	"github.com/wuhu/studio/internal/module/studio/session"
	apperrors "github.com/wuhu/studio/internal/shared/errors"
	"github.com/wuhu/studio/internal/utils/pagination"
)

// StudioService is the service surface used by the HTTP layer.
type StudioService interface {
	Catalog() *service.Catalog
	CreateSession() session.Snapshot
	GetSession(id uuid.UUID) (session.Snapshot, error)
	DeleteSession(id uuid.UUID) error
	SetPrompt(id uuid.UUID, prompt string) (session.Snapshot, error)
	History(id uuid.UUID) ([]session.HistoryEntry, error)
	ClearHistory(id uuid.UUID) error
	Translate(ctx context.Context, id uuid.UUID, apiKey, text string) (string, error)
	Generate(ctx context.Context, id uuid.UUID, in *service.GenerateInput, obs orchestrator.Observer) (*orchestrator.Report, error)
	Download(ctx context.Context, url string, index int) (*download.Artifact, error)
}

// Handler serves the studio API.
type Handler struct {
	service        StudioService
	maxUploadBytes int64
}

// NewHandler creates a studio handler. maxUploadBytes bounds a generation request body;
// zero means no limit.
func NewHandler(svc StudioService, maxUploadBytes int64) *Handler {
	return &Handler{service: svc, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes registers studio routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/catalog", h.Catalog)
	r.GET("/download", h.Download)

	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("/:id", h.GetSession)
		sessions.DELETE("/:id", h.DeleteSession)
		sessions.PUT("/:id/prompt", h.SetPrompt)
		sessions.POST("/:id/translate", h.Translate)
		sessions.POST("/:id/generations", h.Generate)
		sessions.GET("/:id/history", h.History)
		sessions.DELETE("/:id/history", h.ClearHistory)
	}
}

// Catalog returns models, ratios and input limits.
func (h *Handler) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Catalog())
}

// CreateSession starts a session.
func (h *Handler) CreateSession(c *gin.Context) {
	c.JSON(http.StatusCreated, h.service.CreateSession())
}

// GetSession returns a session snapshot.
func (h *Handler) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snap, err := h.service.GetSession(id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DeleteSession ends a session.
func (h *Handler) DeleteSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteSession(id); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// SetPrompt replaces the session prompt.
func (h *Handler) SetPrompt(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, apperrors.BadRequest(err.Error()))
		return
	}
	snap, err := h.service.SetPrompt(id, req.Prompt)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type translateRequest struct {
	Text   string `json:"text"`
	APIKey string `json:"api_key"`
}

// Translate translates the given text or the session prompt and stores the result.
func (h *Handler) Translate(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req translateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			handleError(c, apperrors.BadRequest(err.Error()))
			return
		}
	}
	apiKey := bearerToken(c)
	if apiKey == "" {
		apiKey = req.APIKey
	}

	translated, err := h.service.Translate(c.Request.Context(), id, apiKey, req.Text)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompt": translated})
}

// History lists the session history, oldest first, one page at a time.
func (h *Handler) History(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	page := pagination.New()
	if err := c.ShouldBindQuery(page); err != nil {
		handleError(c, apperrors.BadRequest("invalid pagination: "+err.Error()))
		return
	}
	history, err := h.service.History(id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      pagination.Slice(history, page),
		"total":     len(history),
		"page_info": page.Info(len(history)),
	})
}

// ClearHistory empties the session history.
func (h *Handler) ClearHistory(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.service.ClearHistory(id); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ===== Helpers =====

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handleError(c, apperrors.BadRequest("invalid session id"))
		return uuid.Nil, false
	}
	return id, true
}

// bearerToken returns the API key carried in the Authorization header.
func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// handleError writes err as a JSON error response.
func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	appErr := apperrors.ToAppError(err)
	_ = c.Error(err)
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
