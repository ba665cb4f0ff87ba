package files

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/auth"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/dashboard"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/identity"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/models"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/storage"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/watch"
	"github.com/gin-gonic/gin"
)

type handlerFixture struct {
	*fixture
	hub    *watch.Hub
	router *gin.Engine
}

func setupTestRouter(t *testing.T) *handlerFixture {
	f := newFixture(t)
	hub := watch.NewHub()

	store, err := storage.NewLocalStorage(storage.LocalConfig{
		Dir:     f.dir,
		BaseURL: "http://localhost:8080",
		HMACKey: "test-key",
	})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	f.svc = NewService(f.db, store, hub, Limits{Image: 1 << 20, PDF: 1 << 20, CSV: 1 << 20})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/files")
	group.Use(auth.AuthMiddleware(), auth.ScopeMiddleware(f.db))
	NewHandler(f.svc, hub).RegisterRoutes(group)

	return &handlerFixture{fixture: f, hub: hub, router: r}
}

func getAuthHeader(user models.User) string {
	token, _ := auth.GenerateToken(user.ID, user.Email)
	return "Bearer " + token
}

func (h *handlerFixture) do(user models.User, orgID, method, path string, body *bytes.Buffer) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", getAuthHeader(user))
	if orgID != "" {
		req.Header.Set(auth.HeaderOrganizationID, orgID)
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func TestListFilesHandler(t *testing.T) {
	h := setupTestRouter(t)
	h.createFile(t, h.org.ID, "Budget.csv", 2*time.Hour)
	h.createFile(t, h.org.ID, "photo.png", time.Hour)
	h.createFile(t, h.member.ID, "personal.pdf", time.Hour)

	resp := h.do(h.member, h.org.ID, "GET", "/files?q=budget", nil)

	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var files []FileResponse
	json.Unmarshal(resp.Body.Bytes(), &files)

	if len(files) != 1 || files[0].Name != "Budget.csv" {
		t.Errorf("Expected only Budget.csv, got %+v", files)
	}

	resp = h.do(h.member, "", "GET", "/files", nil)
	json.Unmarshal(resp.Body.Bytes(), &files)
	if len(files) != 1 || files[0].Name != "personal.pdf" {
		t.Errorf("Expected personal scope to list personal.pdf only, got %+v", files)
	}
}

func TestListFilesNotMember(t *testing.T) {
	h := setupTestRouter(t)
	outsider := models.User{Email: "outsider@example.com", Name: "Outsider"}
	h.db.Create(&outsider)

	resp := h.do(outsider, h.org.ID, "GET", "/files", nil)

	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.Code)
	}
}

func TestListFilesWithoutAuth(t *testing.T) {
	h := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/files", nil)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.Code)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	h := setupTestRouter(t)
	file := h.createFile(t, h.org.ID, "f1.pdf", time.Hour)

	for _, body := range []string{"", `{}`, `{"confirm": false}`} {
		resp := h.do(h.admin, h.org.ID, "DELETE", "/files/"+file.ID, bytes.NewBufferString(body))
		if resp.Code != http.StatusBadRequest {
			t.Errorf("Body %q: expected status 400, got %d", body, resp.Code)
		}
	}

	var stored models.File
	h.db.First(&stored, "id = ?", file.ID)
	if stored.ShouldDelete {
		t.Error("Unconfirmed delete must not mark the file")
	}
}

func TestDeleteAsMemberForbidden(t *testing.T) {
	h := setupTestRouter(t)
	file := h.createFile(t, h.org.ID, "f1.pdf", time.Hour)

	resp := h.do(h.member, h.org.ID, "DELETE", "/files/"+file.ID, bytes.NewBufferString(`{"confirm": true}`))

	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.Code)
	}
}

func TestDeleteAndRestoreAsAdmin(t *testing.T) {
	h := setupTestRouter(t)
	file := h.createFile(t, h.org.ID, "f1.pdf", time.Hour)

	resp := h.do(h.admin, h.org.ID, "DELETE", "/files/"+file.ID, bytes.NewBufferString(`{"confirm": true}`))
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = h.do(h.admin, h.org.ID, "GET", "/files/trash", nil)
	var trash []FileResponse
	json.Unmarshal(resp.Body.Bytes(), &trash)
	if len(trash) != 1 || !trash[0].ShouldDelete || trash[0].MarkedAt == nil {
		t.Fatalf("Expected f1 in trash, got %+v", trash)
	}

	resp = h.do(h.member, h.org.ID, "POST", "/files/"+file.ID+"/restore", nil)
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected member restore to be forbidden, got %d", resp.Code)
	}

	resp = h.do(h.admin, h.org.ID, "POST", "/files/"+file.ID+"/restore", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}

	resp = h.do(h.admin, h.org.ID, "GET", "/files/"+file.ID, nil)
	var got FileResponse
	json.Unmarshal(resp.Body.Bytes(), &got)
	if got.ShouldDelete {
		t.Error("Expected file to be restored")
	}
}

func TestGetFileOutOfScope(t *testing.T) {
	h := setupTestRouter(t)
	file := h.createFile(t, h.org.ID, "f1.pdf", time.Hour)

	resp := h.do(h.member, "", "GET", "/files/"+file.ID, nil)

	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}
}

func TestToggleFavoriteHandler(t *testing.T) {
	h := setupTestRouter(t)
	file := h.createFile(t, h.org.ID, "f1.pdf", time.Hour)

	toggle := func(key string) FavoriteResponse {
		req, _ := http.NewRequest("POST", "/files/"+file.ID+"/favorite", nil)
		req.Header.Set("Authorization", getAuthHeader(h.member))
		req.Header.Set(auth.HeaderOrganizationID, h.org.ID)
		if key != "" {
			req.Header.Set(HeaderIdempotencyKey, key)
		}
		resp := httptest.NewRecorder()
		h.router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
		}
		var fav FavoriteResponse
		json.Unmarshal(resp.Body.Bytes(), &fav)
		return fav
	}

	if !toggle("abc").Favorited {
		t.Error("Expected first toggle to favorite")
	}
	if !toggle("abc").Favorited {
		t.Error("Expected redelivered toggle to keep the recorded result")
	}
	if toggle("").Favorited {
		t.Error("Expected new toggle to unfavorite")
	}
}

func TestUploadHandler(t *testing.T) {
	h := setupTestRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "scan.pdf")
	part.Write(pdfBytes)
	mw.WriteField("name", "Signed contract")
	mw.Close()

	req, _ := http.NewRequest("POST", "/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", getAuthHeader(h.member))
	req.Header.Set(auth.HeaderOrganizationID, h.org.ID)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var file FileResponse
	json.Unmarshal(resp.Body.Bytes(), &file)

	if file.Name != "Signed contract" {
		t.Errorf("Expected name 'Signed contract', got %s", file.Name)
	}
	if file.Type != "pdf" {
		t.Errorf("Expected type pdf, got %s", file.Type)
	}
	if file.ScopeID != h.org.ID {
		t.Errorf("Expected scope %s, got %s", h.org.ID, file.ScopeID)
	}
}

func TestUploadHandlerRejectsUnsupported(t *testing.T) {
	h := setupTestRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "archive.zip")
	part.Write(zipBytes)
	mw.Close()

	req, _ := http.NewRequest("POST", "/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", getAuthHeader(h.member))
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.Code)
	}
}

func TestDownloadRedirects(t *testing.T) {
	h := setupTestRouter(t)
	view, err := h.svc.Upload(context.Background(), personalViewer(h.member), UploadRequest{
		Name:    "paper.pdf",
		Content: bytes.NewReader(pdfBytes),
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	resp := h.do(h.member, "", "GET", "/files/"+view.ID+"/download", nil)

	if resp.Code != http.StatusFound {
		t.Fatalf("Expected status 302, got %d", resp.Code)
	}
	location := resp.Header().Get("Location")
	if !strings.Contains(location, "/api/storage/"+view.StorageRef) {
		t.Errorf("Expected redirect to storage URL, got %s", location)
	}
}

func readSnapshot(t *testing.T, r *bufio.Reader, status dashboard.Status) SnapshotEvent {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("Stream ended before a %s snapshot: %v", status, err)
		}
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:")
		if !ok {
			continue
		}
		var ev SnapshotEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Status == status {
			return ev
		}
	}
}

func TestStreamPushesSnapshots(t *testing.T) {
	h := setupTestRouter(t)
	h.createFile(t, h.org.ID, "f1.pdf", time.Hour)

	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, _ := auth.GenerateToken(h.member.ID, h.member.Email)
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/files/stream?access_token="+token+"&org_id="+h.org.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	r := bufio.NewReader(resp.Body)
	first := readSnapshot(t, r, dashboard.StatusReady)
	if len(first.Files) != 1 || first.ScopeID != h.org.ID {
		t.Fatalf("Expected one file in %s, got %+v", h.org.ID, first)
	}

	admin := h.orgViewer(h.admin, identity.RoleAdmin)
	if err := h.svc.SoftDelete(context.Background(), admin, first.Files[0].ID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	next := readSnapshot(t, r, dashboard.StatusReady)
	if len(next.Files) != 0 {
		t.Errorf("Expected the deleted file to disappear from the stream, got %+v", next.Files)
	}

	if n := h.hub.Subscribers(h.org.ID); n != 1 {
		t.Errorf("Expected 1 subscriber while streaming, got %d", n)
	}

	// disconnecting releases the subscription
	cancel()
	resp.Body.Close()
	deadline := time.Now().Add(2 * time.Second)
	for h.hub.Subscribers(h.org.ID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected the subscription to be released after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFileResponseTimesAreUTC(t *testing.T) {
	berlin := time.FixedZone("CET", 60*60)
	marked := time.Date(2024, 3, 2, 9, 30, 0, 0, berlin)
	view := FileView{File: models.File{
		ID:        "f1",
		Name:      "f1.pdf",
		Type:      models.FileTypePDF,
		CreatedAt: time.Date(2024, 3, 1, 13, 0, 0, 0, berlin),
		MarkedAt:  &marked,
	}}

	resp := fileToResponse(view)

	if resp.CreatedAt != "2024-03-01T12:00:00Z" {
		t.Errorf("Expected created_at 2024-03-01T12:00:00Z, got %s", resp.CreatedAt)
	}
	if resp.MarkedAt == nil || *resp.MarkedAt != "2024-03-02T08:30:00Z" {
		t.Errorf("Expected marked_at 2024-03-02T08:30:00Z, got %v", resp.MarkedAt)
	}
}
