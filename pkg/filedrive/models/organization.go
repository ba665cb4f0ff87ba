package models

import (
	"time"

	"gorm.io/gorm"
)

// OrgRole represents a user's role within an organization
type OrgRole string

const (
	OrgRoleAdmin  OrgRole = "admin"
	OrgRoleMember OrgRole = "member"
)

// Organization represents a tenant. Files uploaded while an organization is
// active belong to it and are shared by all of its members.
type Organization struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`             // Display name (e.g., "Acme Corp")
	Slug      string         `gorm:"uniqueIndex;not null" json:"slug"` // URL-safe identifier, unique across all orgs

	// Relationships
	Members []OrganizationMembership `gorm:"foreignKey:OrganizationID" json:"members,omitempty"`
}

// BeforeCreate assigns an id when the caller did not
func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrganizationMembership represents the many-to-many relationship between users and organizations.
// Users can belong to multiple organizations with different roles in each.
type OrganizationMembership struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	OrganizationID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_org_user" json:"organization_id"`
	UserID         string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_org_user" json:"user_id"`
	Role           OrgRole   `gorm:"type:varchar(20);default:'member'" json:"role"`

	// Relationships
	Organization Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	User         User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
