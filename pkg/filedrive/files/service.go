// Package files implements the file gateway: scoped listing and lookup,
// soft delete and restore, per-user favorites, and uploads.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/identity"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/models"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/organizations"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxNameLength = 255

// Notifier is told about every committed change in a scope
type Notifier interface {
	Publish(scopeID string)
}

// Limits caps upload sizes per file type, in bytes
type Limits struct {
	Image int64
	PDF   int64
	CSV   int64
}

func (l Limits) forType(t models.FileType) int64 {
	switch t {
	case models.FileTypeImage:
		return l.Image
	case models.FileTypePDF:
		return l.PDF
	case models.FileTypeCSV:
		return l.CSV
	}
	return 0
}

func (l Limits) max() int64 {
	return max(l.Image, l.PDF, l.CSV)
}

// Filter narrows a listing
type Filter struct {
	// Query is matched as a substring of the file name, ignoring case.
	// It is used as given; only the empty string means no filter.
	Query         string
	FavoritesOnly bool
}

// FileView is a file as seen by one viewer
type FileView struct {
	models.File
	IsFavorited bool
}

// UploadRequest carries a new file's name and content
type UploadRequest struct {
	Name string
	// Filename is the client-side file name, used as a type hint for CSV.
	// Defaults to Name.
	Filename string
	Content  io.Reader
}

// Service is the gateway to file metadata and contents
type Service struct {
	db       *gorm.DB
	storage  storage.Storage
	notifier Notifier
	limits   Limits
	locks    *keyedMutex
	now      func() time.Time
}

// NewService creates a file service. notifier may be nil.
func NewService(db *gorm.DB, store storage.Storage, notifier Notifier, limits Limits) *Service {
	return &Service{
		db:       db,
		storage:  store,
		notifier: notifier,
		limits:   limits,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

func (s *Service) publish(scopeID string) {
	if s.notifier != nil {
		s.notifier.Publish(scopeID)
	}
}

// List returns the viewer's active files, newest first
func (s *Service) List(ctx context.Context, viewer identity.Viewer, filter Filter) ([]FileView, error) {
	return s.list(ctx, viewer, filter, false)
}

// ListTrash returns the viewer's files marked for deletion, newest first
func (s *Service) ListTrash(ctx context.Context, viewer identity.Viewer, filter Filter) ([]FileView, error) {
	return s.list(ctx, viewer, filter, true)
}

func (s *Service) list(ctx context.Context, viewer identity.Viewer, filter Filter, trashed bool) ([]FileView, error) {
	if viewer.ScopeID == "" {
		return nil, ErrScopeUndetermined
	}

	q := s.db.WithContext(ctx).
		Where("scope_id = ? AND should_delete = ?", viewer.ScopeID, trashed)

	if filter.Query != "" {
		q = q.Where(`name_folded LIKE ? ESCAPE '\'`, "%"+escapeLike(models.FoldName(filter.Query))+"%")
	}
	if filter.FavoritesOnly {
		q = q.Where("EXISTS (SELECT 1 FROM favorites WHERE favorites.file_id = files.id AND favorites.user_id = ?)", viewer.UserID)
	}

	var rows []models.File
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		slog.Error("failed to list files", "error", err, "scope_id", viewer.ScopeID)
		return nil, unavailable(err)
	}

	favorited, err := s.favoritedSet(ctx, viewer.UserID, rows)
	if err != nil {
		slog.Error("failed to load favorites", "error", err, "scope_id", viewer.ScopeID)
		return nil, unavailable(err)
	}

	views := make([]FileView, len(rows))
	for i, f := range rows {
		views[i] = FileView{File: f, IsFavorited: favorited[f.ID]}
	}
	return views, nil
}

func (s *Service) favoritedSet(ctx context.Context, userID string, rows []models.File) (map[string]bool, error) {
	set := make(map[string]bool, len(rows))
	if len(rows) == 0 {
		return set, nil
	}

	ids := make([]string, len(rows))
	for i, f := range rows {
		ids[i] = f.ID
	}

	var fileIDs []string
	err := s.db.WithContext(ctx).Model(&models.Favorite{}).
		Where("user_id = ? AND file_id IN ?", userID, ids).
		Pluck("file_id", &fileIDs).Error
	if err != nil {
		return nil, err
	}
	for _, id := range fileIDs {
		set[id] = true
	}
	return set, nil
}

// Get returns one file in the viewer's scope, whether or not it is marked for deletion
func (s *Service) Get(ctx context.Context, viewer identity.Viewer, fileID string) (FileView, error) {
	if viewer.ScopeID == "" {
		return FileView{}, ErrScopeUndetermined
	}

	file, err := findInScope(s.db.WithContext(ctx), fileID, viewer.ScopeID)
	if err != nil {
		return FileView{}, err
	}

	var count int64
	err = s.db.WithContext(ctx).Model(&models.Favorite{}).
		Where("file_id = ? AND user_id = ?", file.ID, viewer.UserID).
		Count(&count).Error
	if err != nil {
		return FileView{}, unavailable(err)
	}

	return FileView{File: file, IsFavorited: count > 0}, nil
}

// DownloadURL returns a time-limited URL for the file's contents
func (s *Service) DownloadURL(ctx context.Context, viewer identity.Viewer, fileID string) (string, error) {
	view, err := s.Get(ctx, viewer, fileID)
	if err != nil {
		return "", err
	}

	url, err := s.storage.URL(ctx, view.StorageRef)
	if err != nil {
		slog.Error("failed to sign download url", "error", err, "file_id", fileID)
		return "", unavailable(err)
	}
	return url, nil
}

func findInScope(db *gorm.DB, fileID, scopeID string) (models.File, error) {
	var file models.File
	err := db.Where("id = ? AND scope_id = ?", fileID, scopeID).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return file, ErrNotFound
		}
		return file, unavailable(err)
	}
	return file, nil
}

// SoftDelete marks a file for deletion. The actor must hold the elevated
// role in the file's scope. Deleting an already marked file succeeds and
// keeps the original mark time.
func (s *Service) SoftDelete(ctx context.Context, actor identity.Viewer, fileID string) error {
	return s.setMarked(ctx, actor, fileID, true)
}

// Restore clears a file's deletion mark. Same authorization as SoftDelete.
func (s *Service) Restore(ctx context.Context, actor identity.Viewer, fileID string) error {
	return s.setMarked(ctx, actor, fileID, false)
}

func (s *Service) setMarked(ctx context.Context, actor identity.Viewer, fileID string, marked bool) error {
	if actor.ScopeID == "" {
		return ErrScopeUndetermined
	}

	unlock, err := s.locks.Lock(ctx, fileID)
	if err != nil {
		return err
	}
	defer unlock()

	var file models.File
	changed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		file, err = findInScope(tx, fileID, actor.ScopeID)
		if err != nil {
			return err
		}

		elevated, err := organizations.IsElevated(tx, actor.UserID, file.ScopeID)
		if err != nil {
			return unavailable(err)
		}
		if !elevated {
			return ErrForbidden
		}

		if file.ShouldDelete == marked {
			return nil
		}

		var markedAt *time.Time
		if marked {
			now := s.now().UTC()
			markedAt = &now
		}
		// UpdateColumns leaves updated_at alone so a restore returns the row unchanged
		err = tx.Model(&models.File{}).Where("id = ?", file.ID).
			UpdateColumns(map[string]any{"should_delete": marked, "marked_at": markedAt}).Error
		if err != nil {
			return unavailable(err)
		}
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			slog.Error("failed to update deletion mark", "error", err, "file_id", fileID, "marked", marked)
		}
		return err
	}

	if changed {
		slog.Info("file deletion mark updated", "file_id", fileID, "scope_id", file.ScopeID, "marked", marked, "actor", actor.UserID)
		s.publish(file.ScopeID)
	}
	return nil
}

// ToggleFavorite flips the actor's favorite on a file and returns the new
// state. With a non-empty idempotencyKey, a repeated call returns the first
// call's result without flipping again.
func (s *Service) ToggleFavorite(ctx context.Context, actor identity.Viewer, fileID, idempotencyKey string) (bool, error) {
	if actor.ScopeID == "" {
		return false, ErrScopeUndetermined
	}

	unlock, err := s.locks.Lock(ctx, fileID)
	if err != nil {
		return false, err
	}
	defer unlock()

	var favorited, replayed bool
	var scopeID string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if idempotencyKey != "" {
			var receipt models.ToggleReceipt
			err := tx.Where("user_id = ? AND key = ?", actor.UserID, idempotencyKey).First(&receipt).Error
			if err == nil {
				if receipt.FileID != fileID {
					return ErrKeyReused
				}
				favorited, replayed = receipt.Favorited, true
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return unavailable(err)
			}
		}

		file, err := findInScope(tx, fileID, actor.ScopeID)
		if err != nil {
			return err
		}
		scopeID = file.ScopeID

		var fav models.Favorite
		err = tx.Where("file_id = ? AND user_id = ?", file.ID, actor.UserID).First(&fav).Error
		switch {
		case err == nil:
			if err := tx.Delete(&fav).Error; err != nil {
				return unavailable(err)
			}
			favorited = false
		case errors.Is(err, gorm.ErrRecordNotFound):
			fav = models.Favorite{FileID: file.ID, UserID: actor.UserID, ScopeID: file.ScopeID}
			if err := tx.Create(&fav).Error; err != nil {
				return unavailable(err)
			}
			favorited = true
		default:
			return unavailable(err)
		}

		if idempotencyKey != "" {
			receipt := models.ToggleReceipt{
				UserID:    actor.UserID,
				Key:       idempotencyKey,
				FileID:    file.ID,
				Favorited: favorited,
			}
			if err := tx.Create(&receipt).Error; err != nil {
				return unavailable(err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			slog.Error("failed to toggle favorite", "error", err, "file_id", fileID, "user_id", actor.UserID)
		}
		return false, err
	}

	if !replayed {
		s.publish(scopeID)
	}
	return favorited, nil
}

// Upload stores a new file in the actor's scope. The type is detected from
// the content; anything other than an image, a PDF or a CSV is rejected.
func (s *Service) Upload(ctx context.Context, actor identity.Viewer, req UploadRequest) (FileView, error) {
	if actor.ScopeID == "" {
		return FileView{}, ErrScopeUndetermined
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength || strings.ContainsAny(name, "/\\\x00") {
		return FileView{}, ErrInvalidName
	}

	limit := s.limits.max()
	data, err := io.ReadAll(io.LimitReader(req.Content, limit+1))
	if err != nil {
		return FileView{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return FileView{}, ErrUnsupportedType
	}

	mtype := mimetype.Detect(data)
	hint := req.Filename
	if hint == "" {
		hint = name
	}
	fileType, ok := classify(mtype, hint)
	if !ok {
		return FileView{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
	}
	if int64(len(data)) > s.limits.forType(fileType) {
		return FileView{}, ErrTooLarge
	}

	ext := mtype.Extension()
	if fileType == models.FileTypeCSV {
		ext = ".csv"
	}
	key := fmt.Sprintf("%s/%s%s", actor.ScopeID, uuid.NewString(), ext)

	if err := s.storage.Save(ctx, key, bytes.NewReader(data), mtype.String()); err != nil {
		slog.Error("failed to store upload", "error", err, "key", key)
		return FileView{}, unavailable(err)
	}

	file := models.File{
		ScopeID:      actor.ScopeID,
		Name:         name,
		Type:         fileType,
		StorageRef:   key,
		MimeType:     mtype.String(),
		Size:         int64(len(data)),
		UploadedByID: actor.UserID,
	}
	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		slog.Error("failed to create file record", "error", err, "key", key)
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			slog.Error("failed to clean up orphaned object", "error", delErr, "key", key)
		}
		return FileView{}, unavailable(err)
	}

	slog.Info("file uploaded", "file_id", file.ID, "scope_id", file.ScopeID, "type", file.Type, "size", file.Size)
	s.publish(file.ScopeID)

	return FileView{File: file}, nil
}

// classify maps detected content to a file type. CSV has no magic number, so
// plain text is accepted as CSV when the name says so.
func classify(mtype *mimetype.MIME, name string) (models.FileType, bool) {
	switch {
	case strings.HasPrefix(mtype.String(), "image/"):
		return models.FileTypeImage, true
	case mtype.Is("application/pdf"):
		return models.FileTypePDF, true
	case mtype.Is("text/csv"):
		return models.FileTypeCSV, true
	case mtype.Is("text/plain") && strings.EqualFold(filepath.Ext(name), ".csv"):
		return models.FileTypeCSV, true
	}
	return "", false
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
