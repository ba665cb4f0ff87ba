// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/auth"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/files"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/middleware"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/organizations"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/storage"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/watch"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// Deps are the services the router dispatches to
type Deps struct {
	DB      *gorm.DB
	Files   *files.Service
	Hub     *watch.Hub
	Storage storage.Storage
}

// NewRouter creates a Gin engine with all routes registered
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogging())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"service": "filedrive",
			})
		})

		// Auth routes (public)
		authHandler := auth.NewHandler(d.DB)
		authHandler.RegisterRoutes(api.Group("/auth"))

		// Organization routes (JWT, no active scope needed)
		orgHandler := organizations.NewHandler(d.DB)
		orgGroup := api.Group("/organizations")
		orgGroup.Use(auth.AuthMiddleware())
		orgHandler.RegisterRoutes(orgGroup)
		orgHandler.RegisterMemberRoutes(orgGroup)

		// File routes (JWT plus the active scope)
		filesHandler := files.NewHandler(d.Files, d.Hub)
		filesGroup := api.Group("/files")
		filesGroup.Use(auth.AuthMiddleware(), auth.ScopeMiddleware(d.DB))
		filesHandler.RegisterRoutes(filesGroup)
	}

	// Signed object downloads; S3 URLs point at the bucket instead
	if local, ok := d.Storage.(*storage.LocalStorage); ok {
		r.GET(storage.RoutePrefix+"/*key", local.Handler())
	}

	return r
}

// Run serves handler on addr until ctx is done, then shuts down gracefully
func Run(ctx context.Context, addr string, handler http.Handler) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	// Open event streams only return once their request context is done
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting FileDrive server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}
