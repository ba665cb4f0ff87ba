package organizations

import (
	"errors"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/models"
	"gorm.io/gorm"
)

// IsElevated reports whether userID holds the elevated role in scopeID. A user
// is elevated in their own personal scope; inside an organization only admins
// of a live organization are. db may be a transaction handle.
func IsElevated(db *gorm.DB, userID, scopeID string) (bool, error) {
	if userID == "" || scopeID == "" {
		return false, nil
	}
	if userID == scopeID {
		return true, nil
	}

	var membership models.OrganizationMembership
	err := db.Joins("JOIN organizations ON organizations.id = organization_memberships.organization_id AND organizations.deleted_at IS NULL").
		Where("organization_memberships.user_id = ? AND organization_memberships.organization_id = ?", userID, scopeID).
		First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return membership.Role == models.OrgRoleAdmin, nil
}

func adminCount(db *gorm.DB, orgID string) (int64, error) {
	var count int64
	err := db.Model(&models.OrganizationMembership{}).
		Where("organization_id = ? AND role = ?", orgID, models.OrgRoleAdmin).
		Count(&count).Error
	return count, err
}
