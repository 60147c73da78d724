package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/SergeiKhy/shortlink/internal/artifact"
	"github.com/SergeiKhy/shortlink/internal/middleware"
	"github.com/SergeiKhy/shortlink/internal/models"
	"github.com/SergeiKhy/shortlink/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LinkHandler struct {
	service  service.LinkService
	resolver service.Resolver
	storage  artifact.Storage
	baseURL  string
	logger   *zap.Logger
}

func NewLinkHandler(
	service service.LinkService,
	resolver service.Resolver,
	storage artifact.Storage,
	baseURL string,
	logger *zap.Logger,
) *LinkHandler {
	return &LinkHandler{
		service:  service,
		resolver: resolver,
		storage:  storage,
		baseURL:  baseURL,
		logger:   logger,
	}
}

type CreateLinkRequest struct {
	URL            string     `json:"url" binding:"required,url"`
	CustomKey      *string    `json:"custom_key,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	ExpiresIn      *int       `json:"expires_in,omitempty"` // минуты
}

// UpdateLinkRequest clear=true снимает срок жизни
type UpdateLinkRequest struct {
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	Clear          bool       `json:"clear,omitempty"`
}

type LinkResponse struct {
	ID             int64             `json:"id"`
	OriginalURL    string            `json:"original_url"`
	ShortKey       *string           `json:"short_key"`
	CustomKey      *string           `json:"custom_key"`
	ResolvedAlias  string            `json:"resolved_alias,omitempty"`
	ShortURL       string            `json:"short_url,omitempty"`
	Status         models.LinkStatus `json:"status"`
	ClickCount     int64             `json:"click_count"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpirationDate *time.Time        `json:"expiration_date"`
	QRCodeURL      *string           `json:"qr_code_url"`
}

type ListLinksResponse struct {
	Links []LinkResponse `json:"links"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateLink godoc
// @Summary Create a short link
// @Description Stores a pending link and schedules key and QR generation
// @Tags links
// @Accept json
// @Produce json
// @Param request body CreateLinkRequest true "Link creation request"
// @Success 201 {object} LinkResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/links [post]
func (h *LinkHandler) CreateLink(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}

	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	link, err := h.service.CreateLink(c.Request.Context(), &models.CreateLinkInput{
		Owner:          owner,
		OriginalURL:    req.URL,
		CustomKey:      req.CustomKey,
		ExpirationDate: req.ExpirationDate,
		ExpiresIn:      req.ExpiresIn,
	})
	if err != nil {
		h.writeError(c, err, "Failed to create link")
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(link))
}

// ListLinks godoc
// @Summary List own links
// @Tags links
// @Produce json
// @Param limit query int false "Page size (1-100)" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} ListLinksResponse
// @Router /api/v1/links [get]
func (h *LinkHandler) ListLinks(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}

	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	links, err := h.service.ListLinks(c.Request.Context(), owner, limit, offset)
	if err != nil {
		h.writeError(c, err, "Failed to list links")
		return
	}

	resp := ListLinksResponse{Links: make([]LinkResponse, 0, len(links))}
	for i := range links {
		resp.Links = append(resp.Links, h.toResponse(&links[i]))
	}

	c.JSON(http.StatusOK, resp)
}

// GetLink godoc
// @Summary Get own link by alias
// @Tags links
// @Produce json
// @Param code path string true "Short or custom key"
// @Success 200 {object} LinkResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/links/{code} [get]
func (h *LinkHandler) GetLink(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}

	link, err := h.service.GetLink(c.Request.Context(), owner, c.Param("code"))
	if err != nil {
		h.writeError(c, err, "Failed to get link")
		return
	}

	c.JSON(http.StatusOK, h.toResponse(link))
}

// UpdateLink godoc
// @Summary Change link expiration
// @Tags links
// @Accept json
// @Produce json
// @Param code path string true "Short or custom key"
// @Param request body UpdateLinkRequest true "New expiration"
// @Success 200 {object} LinkResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/links/{code} [patch]
func (h *LinkHandler) UpdateLink(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}

	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	link, err := h.service.UpdateLink(c.Request.Context(), owner, c.Param("code"), &models.UpdateLinkInput{
		ExpirationDate:  req.ExpirationDate,
		ClearExpiration: req.Clear,
	})
	if err != nil {
		h.writeError(c, err, "Failed to update link")
		return
	}

	c.JSON(http.StatusOK, h.toResponse(link))
}

// DeleteLink godoc
// @Summary Delete a short link
// @Tags links
// @Param code path string true "Short or custom key"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/links/{code} [delete]
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}

	if err := h.service.DeleteLink(c.Request.Context(), owner, c.Param("code")); err != nil {
		h.writeError(c, err, "Failed to delete link")
		return
	}

	c.Status(http.StatusNoContent)
}

// DeleteOwner godoc
// @Summary Delete the caller and all their links
// @Tags owners
// @Produce json
// @Success 200 {object} map[string]int
// @Router /api/v1/me [delete]
func (h *LinkHandler) DeleteOwner(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}

	deleted, err := h.service.RemoveOwner(c.Request.Context(), owner)
	if err != nil {
		h.writeError(c, err, "Failed to delete owner")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// Redirect godoc
// @Summary Redirect to original URL
// @Tags links
// @Param code path string true "Short or custom key"
// @Success 302
// @Failure 404 {object} ErrorResponse
// @Router /{code} [get]
func (h *LinkHandler) Redirect(c *gin.Context) {
	code := c.Param("code")

	result, err := h.resolver.Resolve(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("Failed to resolve link", zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to resolve link",
		})
		return
	}

	if !result.Found {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found or expired",
		})
		return
	}

	c.Redirect(http.StatusFound, result.TargetURL)
}

func (h *LinkHandler) owner(c *gin.Context) (string, bool) {
	owner, ok := middleware.Owner(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Authentication required",
		})
		return "", false
	}
	return owner, true
}

// writeError переводит ошибки сервиса в HTTP статусы
func (h *LinkHandler) writeError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
	case errors.Is(err, service.ErrDuplicateAlias):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "alias_taken", Message: "Alias is already in use"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Link not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: "Link belongs to another owner"})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: message})
	}
}

func (h *LinkHandler) toResponse(link *models.ShortLink) LinkResponse {
	resp := LinkResponse{
		ID:             link.ID,
		OriginalURL:    link.OriginalURL,
		ShortKey:       link.ShortKey,
		CustomKey:      link.CustomKey,
		ResolvedAlias:  link.ResolvedAlias(),
		Status:         link.Status,
		ClickCount:     link.ClickCount,
		CreatedAt:      link.CreatedAt,
		ExpirationDate: link.ExpirationDate,
	}
	if resp.ResolvedAlias != "" {
		resp.ShortURL = h.baseURL + "/" + resp.ResolvedAlias
	}
	if link.QRArtifact != nil {
		u := h.storage.URL(*link.QRArtifact)
		resp.QRCodeURL = &u
	}
	return resp
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
