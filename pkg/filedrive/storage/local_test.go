package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *LocalStorage {
	s, err := NewLocalStorage(LocalConfig{
		Dir:     t.TempDir(),
		BaseURL: "http://localhost:8080/",
		HMACKey: "test-key",
		Expiry:  time.Hour,
	})
	require.NoError(t, err)
	return s
}

func TestLocalStorageSaveDelete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	p := filepath.Join(s.dir, "scope-1", "obj.csv")

	require.NoError(t, s.Save(ctx, "scope-1/obj.csv", strings.NewReader("a,b\n1,2\n"), "text/csv"))

	content, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(content))

	require.NoError(t, s.Delete(ctx, "scope-1/obj.csv"))
	require.NoError(t, s.Delete(ctx, "scope-1/obj.csv"), "deleting a missing object is not an error")

	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, key := range []string{"", "../outside", "/etc/passwd", "a/../../b"} {
		t.Run(key, func(t *testing.T) {
			err := s.Save(ctx, key, strings.NewReader("x"), "")
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestLocalStorageSignature(t *testing.T) {
	s := newTestStorage(t)

	tests := []struct {
		name      string
		key       string
		expires   string
		signature func() string
		valid     bool
	}{
		{
			name:    "valid",
			key:     "scope/obj.png",
			expires: "4102444800",
			signature: func() string {
				return s.createSignature("scope/obj.png", "4102444800")
			},
			valid: true,
		},
		{
			name:    "other key",
			key:     "scope/other.png",
			expires: "4102444800",
			signature: func() string {
				return s.createSignature("scope/obj.png", "4102444800")
			},
			valid: false,
		},
		{
			name:    "tampered expiry",
			key:     "scope/obj.png",
			expires: "4102444801",
			signature: func() string {
				return s.createSignature("scope/obj.png", "4102444800")
			},
			valid: false,
		},
		{
			name:    "expired",
			key:     "scope/obj.png",
			expires: "1000",
			signature: func() string {
				return s.createSignature("scope/obj.png", "1000")
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, s.verifySignature(tt.key, tt.expires, tt.signature()))
		})
	}
}

func TestLocalStorageHandlerServesSignedURL(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "scope/report.csv", strings.NewReader("x,y\n"), "text/csv"))

	r := gin.New()
	r.GET(RoutePrefix+"/*key", s.Handler())

	signed, err := s.URL(ctx, "scope/report.csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "http://localhost:8080/api/storage/scope/report.csv?"))

	u, err := url.Parse(signed)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, u.RequestURI(), nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "x,y\n", resp.Body.String())

	q := u.Query()
	q.Set("signature", "deadbeef")
	req = httptest.NewRequest(http.MethodGet, u.Path+"?"+q.Encode(), nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestLocalStorageURLExpires(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }
	signed, err := s.URL(ctx, "scope/a.pdf")
	require.NoError(t, err)

	u, _ := url.Parse(signed)
	q := u.Query()
	assert.True(t, s.verifySignature("scope/a.pdf", q.Get("expires"), q.Get("signature")))

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.False(t, s.verifySignature("scope/a.pdf", q.Get("expires"), q.Get("signature")))
}
