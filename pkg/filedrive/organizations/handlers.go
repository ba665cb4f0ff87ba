package organizations

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/auth"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$|^[a-z0-9]$`)

var errLastAdmin = errors.New("last admin")

// Handler handles organization-related requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new organizations handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// CreateOrgRequest represents the request to create an organization
type CreateOrgRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
	Slug string `json:"slug" binding:"required,min=1,max=50"`
}

// OrgResponse represents an organization in API responses
type OrgResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Role        string `json:"role,omitempty"` // User's role in this org
	MemberCount int    `json:"member_count,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// MemberResponse represents a member in API responses
type MemberResponse struct {
	ID        uint   `json:"id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// AddMemberRequest represents the request to add a member
type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required,oneof=admin member"`
}

// UpdateMemberRequest represents the request to update a member's role
type UpdateMemberRequest struct {
	Role string `json:"role" binding:"required,oneof=admin member"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// validateSlug checks if an organization slug is valid and available
func (h *Handler) validateSlug(slug string) error {
	if slug == "" {
		return &ValidationError{"Slug is required"}
	}

	if !slugRegex.MatchString(slug) {
		return &ValidationError{"Slug must contain only lowercase letters, numbers, and hyphens (no leading/trailing hyphens)"}
	}

	reserved := []string{"api", "health", "login", "logout", "register", "auth", "files", "storage"}
	for _, r := range reserved {
		if strings.EqualFold(slug, r) {
			return &ValidationError{"This slug is reserved"}
		}
	}

	var existing models.Organization
	if err := h.db.Unscoped().Where("slug = ?", slug).First(&existing).Error; err == nil {
		return &ValidationError{"This slug is already taken"}
	}

	return nil
}

func (h *Handler) memberCount(orgID string) int {
	var count int64
	h.db.Model(&models.OrganizationMembership{}).Where("organization_id = ?", orgID).Count(&count)
	return int(count)
}

// requireAdmin aborts with 403 unless userID is an admin of orgID
func (h *Handler) requireAdmin(c *gin.Context, userID, orgID string) bool {
	err := h.db.Where("user_id = ? AND organization_id = ? AND role = ?", userID, orgID, models.OrgRoleAdmin).
		First(&models.OrganizationMembership{}).Error
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return false
	}
	return true
}

// List returns all organizations the current user is a member of
// @Summary List organizations
// @Tags organizations
// @Produce json
// @Success 200 {array} OrgResponse
// @Security BearerAuth
// @Router /organizations [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var memberships []models.OrganizationMembership
	err := h.db.Preload("Organization").Where("user_id = ?", userID).Order("created_at").Find(&memberships).Error
	if err != nil {
		slog.Error("failed to list organizations", "error", err, "user_id", userID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to fetch organizations"})
		return
	}

	orgs := make([]OrgResponse, 0, len(memberships))
	for _, m := range memberships {
		// Deleted organizations are not preloaded
		if m.Organization.ID == "" {
			continue
		}
		orgs = append(orgs, OrgResponse{
			ID:          m.Organization.ID,
			Name:        m.Organization.Name,
			Slug:        m.Organization.Slug,
			Role:        string(m.Role),
			MemberCount: h.memberCount(m.OrganizationID),
			CreatedAt:   formatTime(m.Organization.CreatedAt),
		})
	}

	c.JSON(http.StatusOK, orgs)
}

// Create creates a new organization and adds the creator as admin
// @Summary Create an organization
// @Tags organizations
// @Accept json
// @Produce json
// @Param request body CreateOrgRequest true "Organization details"
// @Success 201 {object} OrgResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Security BearerAuth
// @Router /organizations [post]
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if err := h.validateSlug(slug); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var org models.Organization
	err := h.db.Transaction(func(tx *gorm.DB) error {
		org = models.Organization{
			Name: strings.TrimSpace(req.Name),
			Slug: slug,
		}
		if err := tx.Create(&org).Error; err != nil {
			return err
		}

		membership := models.OrganizationMembership{
			OrganizationID: org.ID,
			UserID:         userID,
			Role:           models.OrgRoleAdmin,
		}
		return tx.Create(&membership).Error
	})

	if err != nil {
		slog.Error("failed to create organization", "error", err, "user_id", userID, "slug", slug)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to create organization"})
		return
	}

	slog.Info("organization created", "organization_id", org.ID, "user_id", userID)

	c.JSON(http.StatusCreated, OrgResponse{
		ID:          org.ID,
		Name:        org.Name,
		Slug:        org.Slug,
		Role:        string(models.OrgRoleAdmin),
		MemberCount: 1,
		CreatedAt:   formatTime(org.CreatedAt),
	})
}

// Get returns a specific organization
// @Summary Get an organization
// @Tags organizations
// @Produce json
// @Param id path string true "Organization ID"
// @Success 200 {object} OrgResponse
// @Failure 404 {object} map[string]string "Organization not found"
// @Security BearerAuth
// @Router /organizations/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	orgID := c.Param("id")

	var membership models.OrganizationMembership
	if err := h.db.Where("user_id = ? AND organization_id = ?", userID, orgID).First(&membership).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
		return
	}

	var org models.Organization
	if err := h.db.First(&org, "id = ?", orgID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
		return
	}

	c.JSON(http.StatusOK, OrgResponse{
		ID:          org.ID,
		Name:        org.Name,
		Slug:        org.Slug,
		Role:        string(membership.Role),
		MemberCount: h.memberCount(org.ID),
		CreatedAt:   formatTime(org.CreatedAt),
	})
}

// ListMembers returns all members of an organization
// @Summary List organization members
// @Tags organizations
// @Produce json
// @Param id path string true "Organization ID"
// @Success 200 {array} MemberResponse
// @Failure 404 {object} map[string]string "Organization not found"
// @Security BearerAuth
// @Router /organizations/{id}/members [get]
func (h *Handler) ListMembers(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	orgID := c.Param("id")

	if err := h.db.Where("user_id = ? AND organization_id = ?", userID, orgID).First(&models.OrganizationMembership{}).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
		return
	}

	var memberships []models.OrganizationMembership
	if err := h.db.Preload("User").Where("organization_id = ?", orgID).Order("id").Find(&memberships).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to fetch members"})
		return
	}

	members := make([]MemberResponse, len(memberships))
	for i, m := range memberships {
		members[i] = MemberResponse{
			ID:        m.ID,
			UserID:    m.UserID,
			Email:     m.User.Email,
			Name:      m.User.Name,
			Role:      string(m.Role),
			CreatedAt: formatTime(m.CreatedAt),
		}
	}

	c.JSON(http.StatusOK, members)
}

// AddMember adds a user to an organization (admin only)
// @Summary Add a member to an organization
// @Tags organizations
// @Accept json
// @Produce json
// @Param id path string true "Organization ID"
// @Param request body AddMemberRequest true "Member details"
// @Success 201 {object} MemberResponse
// @Failure 403 {object} map[string]string "Admin access required"
// @Security BearerAuth
// @Router /organizations/{id}/members [post]
func (h *Handler) AddMember(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	orgID := c.Param("id")

	if !h.requireAdmin(c, userID, orgID) {
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", strings.ToLower(req.Email)).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	var existing models.OrganizationMembership
	if err := h.db.Where("organization_id = ? AND user_id = ?", orgID, user.ID).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User is already a member"})
		return
	}

	membership := models.OrganizationMembership{
		OrganizationID: orgID,
		UserID:         user.ID,
		Role:           models.OrgRole(req.Role),
	}
	if err := h.db.Create(&membership).Error; err != nil {
		slog.Error("failed to add member", "error", err, "organization_id", orgID, "user_id", user.ID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to add member"})
		return
	}

	c.JSON(http.StatusCreated, MemberResponse{
		ID:        membership.ID,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      string(membership.Role),
		CreatedAt: formatTime(membership.CreatedAt),
	})
}

// UpdateMember updates a member's role (admin only)
// @Summary Update a member's role
// @Tags organizations
// @Accept json
// @Produce json
// @Param id path string true "Organization ID"
// @Param userId path string true "User ID"
// @Param request body UpdateMemberRequest true "Updated role"
// @Success 200 {object} MemberResponse
// @Failure 403 {object} map[string]string "Admin access required"
// @Security BearerAuth
// @Router /organizations/{id}/members/{userId} [put]
func (h *Handler) UpdateMember(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	orgID := c.Param("id")
	targetUserID := c.Param("userId")

	if !h.requireAdmin(c, userID, orgID) {
		return
	}

	var req UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var membership models.OrganizationMembership
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("User").Where("organization_id = ? AND user_id = ?", orgID, targetUserID).First(&membership).Error; err != nil {
			return err
		}

		// An organization always keeps at least one admin
		if membership.Role == models.OrgRoleAdmin && models.OrgRole(req.Role) != models.OrgRoleAdmin {
			count, err := adminCount(tx, orgID)
			if err != nil {
				return err
			}
			if count <= 1 {
				return errLastAdmin
			}
		}

		membership.Role = models.OrgRole(req.Role)
		return tx.Save(&membership).Error
	})

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	case errors.Is(err, errLastAdmin):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot demote the only admin"})
		return
	case err != nil:
		slog.Error("failed to update member", "error", err, "organization_id", orgID, "user_id", targetUserID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to update member"})
		return
	}

	c.JSON(http.StatusOK, MemberResponse{
		ID:        membership.ID,
		UserID:    membership.UserID,
		Email:     membership.User.Email,
		Name:      membership.User.Name,
		Role:      string(membership.Role),
		CreatedAt: formatTime(membership.CreatedAt),
	})
}

// RemoveMember removes a member from an organization (admin only, or self)
// @Summary Remove a member from an organization
// @Tags organizations
// @Produce json
// @Param id path string true "Organization ID"
// @Param userId path string true "User ID"
// @Success 200 {object} map[string]string "Member removed"
// @Failure 403 {object} map[string]string "Admin access required"
// @Security BearerAuth
// @Router /organizations/{id}/members/{userId} [delete]
func (h *Handler) RemoveMember(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	orgID := c.Param("id")
	targetUserID := c.Param("userId")

	if userID != targetUserID && !h.requireAdmin(c, userID, orgID) {
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		var membership models.OrganizationMembership
		if err := tx.Where("organization_id = ? AND user_id = ?", orgID, targetUserID).First(&membership).Error; err != nil {
			return err
		}

		if membership.Role == models.OrgRoleAdmin {
			count, err := adminCount(tx, orgID)
			if err != nil {
				return err
			}
			if count <= 1 {
				return errLastAdmin
			}
		}

		return tx.Delete(&membership).Error
	})

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	case errors.Is(err, errLastAdmin):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot remove the only admin"})
		return
	case err != nil:
		slog.Error("failed to remove member", "error", err, "organization_id", orgID, "user_id", targetUserID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to remove member"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}

// RegisterRoutes registers organization routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.Get)
}

// RegisterMemberRoutes registers member management routes
func (h *Handler) RegisterMemberRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id/members", h.ListMembers)
	rg.POST("/:id/members", h.AddMember)
	rg.PUT("/:id/members/:userId", h.UpdateMember)
	rg.DELETE("/:id/members/:userId", h.RemoveMember)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
