package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/auth"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/config"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/database"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/files"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/logger"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/models"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/purge"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/server"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/storage"
	"github.com/DanSmirnov48/file-drive/pkg/filedrive/watch"
	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
)

// @title FileDrive API
// @version 1.0
// @description Multi-tenant file storage with organizations, favorites and a trash bin.

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token. Format: "Bearer {token}"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Init(cfg.IsDevelopment(), cfg.SentryDSN)
	if cfg.SentryDSN != "" {
		defer sentry.Flush(2 * time.Second)
	}
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	auth.Configure(cfg.JWTSecret, cfg.JWTExpiry)

	db, err := database.Connect(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := models.AutoMigrate(db); err != nil {
		return err
	}
	slog.Info("database migrations completed")

	store, err := storage.New(cfg)
	if err != nil {
		return err
	}

	hub := watch.NewHub()
	svc := files.NewService(db, store, hub, files.Limits{
		Image: cfg.MaxImageSize,
		PDF:   cfg.MaxPDFSize,
		CSV:   cfg.MaxCSVSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := purge.NewWorker(db, store, hub, purge.Config{
		Interval: cfg.PurgeInterval,
		After:    cfg.PurgeAfter,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	router := server.NewRouter(server.Deps{DB: db, Files: svc, Hub: hub, Storage: store})
	serveFrontend(router)

	err = server.Run(ctx, ":"+cfg.Port, router)
	stop()
	<-done
	return err
}

// serveFrontend serves the SPA build when ./web/dist exists
func serveFrontend(r *gin.Engine) {
	webDistPath := "./web/dist"
	if _, err := os.Stat(webDistPath); err != nil {
		slog.Info("no frontend build found at ./web/dist, API only mode")
		return
	}

	r.Static("/assets", filepath.Join(webDistPath, "assets"))
	r.StaticFile("/favicon.ico", filepath.Join(webDistPath, "favicon.ico"))

	indexHTML := filepath.Join(webDistPath, "index.html")
	for _, route := range []string{"/", "/login", "/register", "/dashboard", "/dashboard/favorites", "/dashboard/trash"} {
		r.GET(route, func(c *gin.Context) {
			c.File(indexHTML)
		})
	}

	slog.Info("serving frontend from ./web/dist")
}
