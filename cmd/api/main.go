package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/lmittmann/tint"

	"github.com/calyxbio/embryograde/internal/application"
	appchat "github.com/calyxbio/embryograde/internal/application/chat"
	appreviews "github.com/calyxbio/embryograde/internal/application/reviews"
	"github.com/calyxbio/embryograde/internal/config"
	domchat "github.com/calyxbio/embryograde/internal/domain/chat"
	"github.com/calyxbio/embryograde/internal/domain/review"
	"github.com/calyxbio/embryograde/internal/domain/reviewerrors"
	openaiclient "github.com/calyxbio/embryograde/internal/infra/ai/openai"
	mysqlrepo "github.com/calyxbio/embryograde/internal/infra/db/mysql"
	postgresrepo "github.com/calyxbio/embryograde/internal/infra/db/postgres"
	"github.com/calyxbio/embryograde/internal/infra/httpserver"
	"github.com/calyxbio/embryograde/internal/infra/media"
	"github.com/calyxbio/embryograde/internal/infra/report"
	sessionstore "github.com/calyxbio/embryograde/internal/infra/session"
	miniostore "github.com/calyxbio/embryograde/internal/infra/storage"
	"github.com/calyxbio/embryograde/internal/middleware"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("config load failed", "path", path, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Database: mysql by default, postgres when configured.
	var (
		itemRepo  review.Repository
		chatRepo  domchat.Repository
		errorRepo reviewerrors.Repository
		dbChecker middleware.HealthChecker
		closeDB   func() error
	)
	switch cfg.Database.Driver {
	case "", "mysql":
		db, err := mysqlrepo.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			logger.Error("mysql connect failed", "error", err)
			os.Exit(1)
		}
		itemRepo = mysqlrepo.NewItemRepository(db)
		chatRepo = mysqlrepo.NewChatRepository(db)
		errorRepo = mysqlrepo.NewReviewErrorRepository(db)
		dbChecker = &middleware.DatabaseHealthChecker{DB: db}
		closeDB = db.Close
	case "postgres":
		db, err := postgresrepo.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		itemRepo = postgresrepo.NewItemRepository(db)
		chatRepo = postgresrepo.NewChatRepository(db)
		errorRepo = postgresrepo.NewReviewErrorRepository(db)
		dbChecker = &middleware.DatabaseHealthChecker{DB: db}
		closeDB = db.Close
	default:
		logger.Error("unknown database driver", "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer closeDB()

	store, err := miniostore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		logger.Error("minio init failed", "error", err)
		os.Exit(1)
	}

	model := openaiclient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.RequestsPerMinute)
	frames := media.NewFrameExtractor(cfg.Media.FFmpegPath, cfg.Media.FrameIntervalSeconds, cfg.Media.MaxFrames)
	sessions := sessionstore.NewCacheStore(time.Duration(cfg.Session.TTLMinutes) * time.Minute)
	clock := application.SystemClock{}

	reviewsSvc := &appreviews.Service{
		Repo:       itemRepo,
		Media:      store,
		Artifacts:  store,
		AI:         model,
		Transcript: chatRepo,
		Errors:     errorRepo,
		Sessions:   sessions,
		Frames:     frames,
		Reports:    report.NewGenerator(),
		Clock:      clock,
		Log:        logger,
	}
	chatSvc := &appchat.Service{
		Items:      itemRepo,
		Transcript: chatRepo,
		AI:         model,
		Errors:     errorRepo,
		Clock:      clock,
		Log:        logger,
	}

	mux := chi.NewRouter()
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.LoggingMiddleware(logger))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.RateLimitMiddleware(10, 30))
	if len(cfg.Auth.Keys) > 0 {
		mux.Use(middleware.APIKeyAuth(cfg.Auth.Keys))
		mux.Use(middleware.RequireValidClinic)
	}

	mux.Get("/healthz", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database": dbChecker,
		"storage":  middleware.CheckFunc(store.Ping),
	}))
	mux.Get("/readyz", middleware.ReadinessHandler)
	mux.Get("/livez", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)
	mux.Mount("/", httpserver.NewRouter(reviewsSvc, chatSvc))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
