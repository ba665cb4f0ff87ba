package models

import (
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"gorm.io/gorm"
)

// FileType is the closed set of content kinds the drive accepts
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypePDF   FileType = "pdf"
	FileTypeCSV   FileType = "csv"
)

// Valid reports whether t is one of the accepted file types
func (t FileType) Valid() bool {
	switch t {
	case FileTypeImage, FileTypePDF, FileTypeCSV:
		return true
	}
	return false
}

// File is the metadata row for an uploaded object.
// ScopeID, Type and StorageRef are fixed at upload time. ShouldDelete marks the
// file for the purge job; the row stays readable by id until then.
type File struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt    time.Time  `gorm:"index:idx_files_scope_created,priority:2" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ScopeID      string     `gorm:"type:varchar(36);not null;index:idx_files_scope_created,priority:1" json:"scope_id"`
	Name         string     `gorm:"not null" json:"name"`
	NameFolded   string     `gorm:"not null;default:''" json:"-"` // case-folded Name, used by search
	Type         FileType   `gorm:"type:varchar(10);not null" json:"type"`
	StorageRef   string     `gorm:"not null;uniqueIndex" json:"storage_ref"`
	MimeType     string     `json:"mime_type"`
	Size         int64      `json:"size"`
	UploadedByID string     `gorm:"type:varchar(36);not null" json:"uploaded_by_id"`
	ShouldDelete bool       `gorm:"not null;default:false;index" json:"should_delete"`
	MarkedAt     *time.Time `json:"marked_at,omitempty"`
}

// BeforeCreate assigns an id when the caller did not, rejects unknown
// types and derives NameFolded
func (f *File) BeforeCreate(tx *gorm.DB) error {
	if !f.Type.Valid() {
		return fmt.Errorf("invalid file type %q", f.Type)
	}
	ensureID(&f.ID)
	f.NameFolded = FoldName(f.Name)
	return nil
}

// FoldName maps s to its Unicode case-folded form. Names and search terms
// are both folded with it so matching ignores case in any script.
func FoldName(s string) string {
	return cases.Fold().String(s)
}
