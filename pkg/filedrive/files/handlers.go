package files

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/auth"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/identity"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/watch"
	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey deduplicates redelivered favorite toggles
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// Handler handles file-related requests
type Handler struct {
	svc *Service
	hub *watch.Hub
}

// NewHandler creates a new files handler. hub feeds the change stream.
func NewHandler(svc *Service, hub *watch.Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// FileResponse represents a file in API responses
type FileResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	MimeType     string  `json:"mime_type"`
	Size         int64   `json:"size"`
	ScopeID      string  `json:"scope_id"`
	UploadedByID string  `json:"uploaded_by_id"`
	ShouldDelete bool    `json:"should_delete"`
	MarkedAt     *string `json:"marked_at,omitempty"`
	IsFavorited  bool    `json:"is_favorited"`
	CreatedAt    string  `json:"created_at"`
}

// DeleteRequest confirms a soft delete
type DeleteRequest struct {
	Confirm bool `json:"confirm"`
}

// FavoriteResponse reports the favorite state after a toggle
type FavoriteResponse struct {
	Favorited bool `json:"favorited"`
}

func fileToResponse(f FileView) FileResponse {
	resp := FileResponse{
		ID:           f.ID,
		Name:         f.Name,
		Type:         string(f.Type),
		MimeType:     f.MimeType,
		Size:         f.Size,
		ScopeID:      f.ScopeID,
		UploadedByID: f.UploadedByID,
		ShouldDelete: f.ShouldDelete,
		IsFavorited:  f.IsFavorited,
		CreatedAt:    f.CreatedAt.UTC().Format(time.RFC3339),
	}
	if f.MarkedAt != nil {
		marked := f.MarkedAt.UTC().Format(time.RFC3339)
		resp.MarkedAt = &marked
	}
	return resp
}

func filesToResponse(views []FileView) []FileResponse {
	resp := make([]FileResponse, len(views))
	for i, v := range views {
		resp[i] = fileToResponse(v)
	}
	return resp
}

// respondError maps gateway errors onto HTTP responses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
	case errors.Is(err, ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only images, PDFs and CSV files are supported"})
	case errors.Is(err, ErrTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": "File is too large"})
	case errors.Is(err, ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file name"})
	case errors.Is(err, ErrKeyReused):
		c.JSON(http.StatusConflict, gin.H{"error": "Idempotency key already used for another file"})
	case errors.Is(err, ErrScopeUndetermined):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
	}
}

func viewer(c *gin.Context) (identity.Viewer, bool) {
	v, ok := auth.GetViewer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return identity.Viewer{}, false
	}
	return v, true
}

func filterFromQuery(c *gin.Context) Filter {
	favorites, _ := strconv.ParseBool(c.Query("favorites"))
	return Filter{Query: c.Query("q"), FavoritesOnly: favorites}
}

// List returns the active files in the current scope
// @Summary List files
// @Description Active files in the current scope, newest first
// @Tags files
// @Produce json
// @Param q query string false "Case-insensitive name search"
// @Param favorites query bool false "Only the caller's favorites"
// @Success 200 {array} FileResponse
// @Security BearerAuth
// @Router /files [get]
func (h *Handler) List(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	views, err := h.svc.List(c.Request.Context(), v, filterFromQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, filesToResponse(views))
}

// ListTrash returns the files marked for deletion in the current scope
// @Summary List trashed files
// @Tags files
// @Produce json
// @Success 200 {array} FileResponse
// @Security BearerAuth
// @Router /files/trash [get]
func (h *Handler) ListTrash(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	views, err := h.svc.ListTrash(c.Request.Context(), v, filterFromQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, filesToResponse(views))
}

// Get returns a single file
// @Summary Get a file
// @Tags files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} FileResponse
// @Failure 404 {object} map[string]string "File not found"
// @Security BearerAuth
// @Router /files/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	view, err := h.svc.Get(c.Request.Context(), v, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, fileToResponse(view))
}

// Download redirects to a time-limited URL for the file's contents
// @Summary Download a file
// @Tags files
// @Param id path string true "File ID"
// @Success 302
// @Failure 404 {object} map[string]string "File not found"
// @Security BearerAuth
// @Router /files/{id}/download [get]
func (h *Handler) Download(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	url, err := h.svc.DownloadURL(c.Request.Context(), v, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, url)
}

// Upload stores a new file in the current scope
// @Summary Upload a file
// @Tags files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Image, PDF or CSV"
// @Param name formData string false "Display name (defaults to the file name)"
// @Success 201 {object} FileResponse
// @Failure 400 {object} map[string]string "Unsupported file"
// @Security BearerAuth
// @Router /files [post]
func (h *Handler) Upload(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A file is required"})
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = header.Filename
	}

	content, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}
	defer content.Close()

	view, err := h.svc.Upload(c.Request.Context(), v, UploadRequest{Name: name, Filename: header.Filename, Content: content})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, fileToResponse(view))
}

// Delete marks a file for deletion (admin only). The body must confirm the action.
// @Summary Delete a file
// @Tags files
// @Accept json
// @Produce json
// @Param id path string true "File ID"
// @Param request body DeleteRequest true "Confirmation"
// @Success 200 {object} map[string]string "File marked for deletion"
// @Failure 400 {object} map[string]string "Confirmation required"
// @Failure 403 {object} map[string]string "Admin access required"
// @Security BearerAuth
// @Router /files/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Confirm {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Deletion must be confirmed"})
		return
	}

	if err := h.svc.SoftDelete(c.Request.Context(), v, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "File marked for deletion"})
}

// Restore clears a file's deletion mark (admin only)
// @Summary Restore a file
// @Tags files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} map[string]string "File restored"
// @Failure 403 {object} map[string]string "Admin access required"
// @Security BearerAuth
// @Router /files/{id}/restore [post]
func (h *Handler) Restore(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	if err := h.svc.Restore(c.Request.Context(), v, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "File restored"})
}

// ToggleFavorite flips the caller's favorite on a file
// @Summary Toggle favorite
// @Tags files
// @Produce json
// @Param id path string true "File ID"
// @Param Idempotency-Key header string false "Deduplicates retried requests"
// @Success 200 {object} FavoriteResponse
// @Failure 404 {object} map[string]string "File not found"
// @Security BearerAuth
// @Router /files/{id}/favorite [post]
func (h *Handler) ToggleFavorite(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	key := c.GetHeader(HeaderIdempotencyKey)
	if len(key) > maxIdempotencyKeyLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency key too long"})
		return
	}

	favorited, err := h.svc.ToggleFavorite(c.Request.Context(), v, c.Param("id"), key)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, FavoriteResponse{Favorited: favorited})
}

// RegisterRoutes registers file routes. The group must run AuthMiddleware and ScopeMiddleware.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Upload)
	rg.GET("/trash", h.ListTrash)
	rg.GET("/stream", h.Stream)
	rg.GET("/:id", h.Get)
	rg.DELETE("/:id", h.Delete)
	rg.GET("/:id/download", h.Download)
	rg.POST("/:id/restore", h.Restore)
	rg.POST("/:id/favorite", h.ToggleFavorite)
}
