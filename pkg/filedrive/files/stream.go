package files

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/dashboard"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/identity"
	"github.com/gin-gonic/gin"
)

const streamKeepAlive = 25 * time.Second

// SnapshotEvent is the payload of a "snapshot" server-sent event
type SnapshotEvent struct {
	Status  dashboard.Status `json:"status"`
	ScopeID string           `json:"scope_id"`
	Files   []FileResponse   `json:"files,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func snapshotEvent(s dashboard.Snapshot[FileView]) SnapshotEvent {
	ev := SnapshotEvent{Status: s.Status, ScopeID: s.ScopeID}
	switch s.Status {
	case dashboard.StatusReady:
		ev.Files = filesToResponse(s.Items)
	case dashboard.StatusFailed:
		ev.Error = "Service temporarily unavailable"
	}
	return ev
}

// NewBrowser returns a dashboard browser that lists active files through svc
func NewBrowser(svc *Service) *dashboard.Browser[FileView] {
	return dashboard.New(func(ctx context.Context, viewer identity.Viewer, q dashboard.Query) ([]FileView, error) {
		return svc.List(ctx, viewer, Filter{Query: q.Search, FavoritesOnly: q.FavoritesOnly})
	})
}

// Stream pushes the file list as server-sent events. A fresh snapshot is
// sent whenever a file in the scope changes.
// @Summary Stream file list
// @Tags files
// @Produce text/event-stream
// @Param q query string false "Case-insensitive name search"
// @Param favorites query bool false "Only the caller's favorites"
// @Security BearerAuth
// @Router /files/stream [get]
func (h *Handler) Stream(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}
	filter := filterFromQuery(c)

	sub := h.hub.Subscribe(v.ScopeID)
	slog.Debug("event stream opened", "scope_id", v.ScopeID, "subscribers", h.hub.Subscribers(v.ScopeID))
	defer func() {
		sub.Close()
		slog.Debug("event stream closed", "scope_id", v.ScopeID, "subscribers", h.hub.Subscribers(v.ScopeID))
	}()

	browser := NewBrowser(h.svc)
	defer browser.Close()

	browser.SetQuery(dashboard.Query{Search: filter.Query, FavoritesOnly: filter.FavoritesOnly})
	browser.SetIdentity(identity.AuthState{
		UserLoaded:   true,
		User:         &identity.User{ID: v.UserID},
		OrgLoaded:    true,
		Organization: organizationOf(v),
	})

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-sub.C:
			browser.Refresh()
			return true
		case snap := <-browser.Updates():
			c.SSEvent("snapshot", snapshotEvent(snap))
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			return true
		}
	})
}

func organizationOf(v identity.Viewer) *identity.Organization {
	if v.OrganizationID == "" {
		return nil
	}
	return &identity.Organization{ID: v.OrganizationID, Role: v.Role}
}
