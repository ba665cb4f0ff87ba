package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/auth"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/files"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/models"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/organizations"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/storage"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/watch"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

// setupFullServer builds the router the way cmd/filedrive-server does
func setupFullServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)

	store, err := storage.NewLocalStorage(storage.LocalConfig{
		Dir:     t.TempDir(),
		BaseURL: "http://localhost:8080",
		HMACKey: "test-key",
		Expiry:  time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	hub := watch.NewHub()
	svc := files.NewService(db, store, hub, files.Limits{Image: 1 << 20, PDF: 1 << 20, CSV: 1 << 20})

	return NewRouter(Deps{DB: db, Files: svc, Hub: hub, Storage: store}), db
}

type client struct {
	t      *testing.T
	router *gin.Engine
	token  string
	orgID  string
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.orgID != "" {
		req.Header.Set(auth.HeaderOrganizationID, c.orgID)
	}
	resp := httptest.NewRecorder()
	c.router.ServeHTTP(resp, req)
	return resp
}

func (c *client) upload(name string, content []byte) files.FileResponse {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", name)
	part.Write(content)
	mw.Close()

	req, _ := http.NewRequest("POST", "/api/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.orgID != "" {
		req.Header.Set(auth.HeaderOrganizationID, c.orgID)
	}
	resp := httptest.NewRecorder()
	c.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		c.t.Fatalf("Upload: expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var file files.FileResponse
	json.Unmarshal(resp.Body.Bytes(), &file)
	return file
}

func (c *client) list() []files.FileResponse {
	resp := c.do("GET", "/api/files", nil)
	if resp.Code != http.StatusOK {
		c.t.Fatalf("List: expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var list []files.FileResponse
	json.Unmarshal(resp.Body.Bytes(), &list)
	return list
}

func register(t *testing.T, router *gin.Engine, email string) *client {
	c := &client{t: t, router: router}
	resp := c.do("POST", "/api/auth/register", auth.RegisterRequest{
		Email:    email,
		Password: "password123",
		Name:     "Test User",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("Register: expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var out auth.AuthResponse
	json.Unmarshal(resp.Body.Bytes(), &out)
	c.token = out.Token
	return c
}

// TestServerStartup verifies that all routes can be registered without conflicts
func TestServerStartup(t *testing.T) {
	router, _ := setupFullServer(t)
	if router == nil {
		t.Fatal("Expected router to be created")
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupFullServer(t)

	for _, path := range []string{"/health", "/api/health"} {
		req, _ := http.NewRequest("GET", path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		if resp.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, resp.Code)
		}
	}
}

func TestFilesRequireAuth(t *testing.T) {
	router, _ := setupFullServer(t)
	c := &client{t: t, router: router}

	resp := c.do("GET", "/api/files", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.Code)
	}
}

// TestOrganizationFileLifecycle walks the delete scenario end to end: a member
// cannot delete an org file, an admin can, and the member's list follows.
func TestOrganizationFileLifecycle(t *testing.T) {
	router, db := setupFullServer(t)
	admin := register(t, router, "admin@example.com")
	member := register(t, router, "member@example.com")

	resp := admin.do("POST", "/api/organizations", organizations.CreateOrgRequest{Name: "Org One", Slug: "org-1"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("Create org: expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var org organizations.OrgResponse
	json.Unmarshal(resp.Body.Bytes(), &org)

	resp = admin.do("POST", "/api/organizations/"+org.ID+"/members", organizations.AddMemberRequest{
		Email: "member@example.com",
		Role:  "member",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("Add member: expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	admin.orgID = org.ID
	member.orgID = org.ID

	f1 := member.upload("f1.pdf", pdfBytes)
	if f1.ScopeID != org.ID {
		t.Fatalf("Expected upload in org scope, got %s", f1.ScopeID)
	}

	// personal scope stays separate
	personal := &client{t: t, router: router, token: member.token}
	if got := personal.list(); len(got) != 0 {
		t.Errorf("Expected empty personal scope, got %d files", len(got))
	}

	resp = member.do("DELETE", "/api/files/"+f1.ID, files.DeleteRequest{Confirm: true})
	if resp.Code != http.StatusForbidden {
		t.Errorf("Member delete: expected status 403, got %d", resp.Code)
	}
	if got := member.list(); len(got) != 1 || got[0].ID != f1.ID {
		t.Errorf("Expected f1 still listed after forbidden delete, got %+v", got)
	}

	resp = admin.do("DELETE", "/api/files/"+f1.ID, files.DeleteRequest{Confirm: true})
	if resp.Code != http.StatusOK {
		t.Fatalf("Admin delete: expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := member.list(); len(got) != 0 {
		t.Errorf("Expected empty list after admin delete, got %+v", got)
	}

	// still readable by id, and restorable
	resp = member.do("GET", "/api/files/"+f1.ID, nil)
	if resp.Code != http.StatusOK {
		t.Errorf("Get deleted file: expected status 200, got %d", resp.Code)
	}
	resp = admin.do("POST", "/api/files/"+f1.ID+"/restore", nil)
	if resp.Code != http.StatusOK {
		t.Errorf("Restore: expected status 200, got %d", resp.Code)
	}
	if got := member.list(); len(got) != 1 {
		t.Errorf("Expected f1 back after restore, got %+v", got)
	}

	// demoting the last admin is refused, so the org keeps someone who can restore
	var adminUser models.User
	db.Where("email = ?", "admin@example.com").First(&adminUser)
	resp = admin.do("PUT", "/api/organizations/"+org.ID+"/members/"+adminUser.ID, organizations.UpdateMemberRequest{Role: "member"})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Demote last admin: expected status 400, got %d", resp.Code)
	}
}

func TestDownloadThroughSignedURL(t *testing.T) {
	router, _ := setupFullServer(t)
	user := register(t, router, "user@example.com")
	file := user.upload("paper.pdf", pdfBytes)

	resp := user.do("GET", "/api/files/"+file.ID+"/download", nil)
	if resp.Code != http.StatusFound {
		t.Fatalf("Expected status 302, got %d", resp.Code)
	}

	location, err := url.Parse(resp.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Invalid redirect location: %v", err)
	}

	// the signed URL needs no bearer token
	req, _ := http.NewRequest("GET", location.RequestURI(), nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200 from signed URL, got %d", resp.Code)
	}
	if !bytes.Equal(resp.Body.Bytes(), pdfBytes) {
		t.Error("Downloaded content does not match upload")
	}
}
