package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrInvalidKey is returned for keys that would escape the storage directory
var ErrInvalidKey = errors.New("invalid object key")

// RoutePrefix is where Handler is mounted; signed URLs point below it
const RoutePrefix = "/api/storage"

// LocalStorage keeps objects on the filesystem and signs download URLs with
// HMAC-SHA256. The signed URLs are served by Handler.
type LocalStorage struct {
	dir     string
	baseURL string
	hmacKey []byte
	expiry  time.Duration
	now     func() time.Time
}

// LocalConfig holds configuration for local storage
type LocalConfig struct {
	Dir     string
	BaseURL string
	HMACKey string
	Expiry  time.Duration
}

// NewLocalStorage creates a filesystem storage rooted at cfg.Dir
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	if cfg.HMACKey == "" {
		return nil, errors.New("local storage requires an HMAC key")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	return &LocalStorage{
		dir:     cfg.Dir,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		hmacKey: []byte(cfg.HMACKey),
		expiry:  expiry,
		now:     time.Now,
	}, nil
}

func (s *LocalStorage) path(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.dir, rel), nil
}

// Save writes the object to disk
func (s *LocalStorage) Save(ctx context.Context, key string, r io.Reader, contentType string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	file, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		os.Remove(p)
		return fmt.Errorf("failed to write object content: %w", err)
	}

	return nil
}

// Delete removes the object from disk
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return nil // already deleted
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// URL returns a signed URL for the object that stays valid for the configured expiry
func (s *LocalStorage) URL(ctx context.Context, key string) (string, error) {
	if _, err := s.path(key); err != nil {
		return "", err
	}

	expires := strconv.FormatInt(s.now().Add(s.expiry).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("signature", s.createSignature(key, expires))

	return fmt.Sprintf("%s%s/%s?%s", s.baseURL, RoutePrefix, key, q.Encode()), nil
}

// createSignature generates the HMAC signature for a key and expiry
func (s *LocalStorage) createSignature(key, expires string) string {
	h := hmac.New(sha256.New, s.hmacKey)
	h.Write([]byte(key))
	h.Write([]byte{'\n'})
	h.Write([]byte(expires))
	return hex.EncodeToString(h.Sum(nil))
}

// verifySignature validates the signature and that the URL has not expired
func (s *LocalStorage) verifySignature(key, expires, signature string) bool {
	expectedSignature := s.createSignature(key, expires)
	if !hmac.Equal([]byte(signature), []byte(expectedSignature)) {
		return false
	}

	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	return s.now().Before(time.Unix(unix, 0))
}

// Handler serves objects behind signed URLs. Mount it at RoutePrefix + "/*key".
func (s *LocalStorage) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("key"), "/")

		if !s.verifySignature(key, c.Query("expires"), c.Query("signature")) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or expired signature"})
			return
		}

		p, err := s.path(key)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid object key"})
			return
		}
		if _, err := os.Stat(p); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Object not found"})
			return
		}

		c.File(p)
	}
}
