package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/pagewise/reader/api/handlers"
	"github.com/pagewise/reader/api/routes"
	cfg "github.com/pagewise/reader/config"
	"github.com/pagewise/reader/internal/convert"
	"github.com/pagewise/reader/internal/render"
	"github.com/pagewise/reader/internal/store/sqlite"
	"github.com/pagewise/reader/internal/validator"
	"github.com/pagewise/reader/pkg/logger"
	"github.com/pagewise/reader/pkg/queue"
	"github.com/pagewise/reader/pkg/storage"
)

func main() {
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/server.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	app := cfg.GetAppConfig()

	db, err := sqlite.NewStore(app.DataDir, sqlite.WithPageBatchSize(app.PageBatchSize))
	if err != nil {
		log.Fatal("failed to open metadata store", logger.Error(err))
	}
	defer db.Close()

	storageType := storage.StorageType(envOr("STORAGE_TYPE", "minio"))
	files, err := storage.NewStorage(storageType, log)
	if err != nil {
		log.Fatal("failed to init storage", logger.Error(err))
	}

	tasks, err := queue.GetQueue()
	if err != nil {
		log.Fatal("failed to init task queue", logger.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: app.RedisAddr,
		DB:   app.RedisDB,
	})
	renderCache := render.NewRedisCache(redisClient, app.RenderCacheTTL)
	renderer := render.NewRenderer(
		renderCache,
		render.NewFitzEngine(app.RenderScale, app.RenderSharpness),
		log,
		render.Config{
			InitialWindow: app.RenderInitialWindow,
			BatchSize:     app.RenderBatchSize,
		},
	)

	conversions := convert.NewService(db.Documents(), files, tasks, convert.NewEPUBEngine(), log)

	h := handlers.NewHandlers(
		db.Documents(),
		db.Pages(),
		files,
		tasks,
		conversions,
		renderer,
		validator.NewUploadValidator(log, app.MaxUploadBytes, app.MaxValidateBytes),
		validator.NewUploadLimiter(app.UploadRatePerMin, app.UploadBurst),
		log,
	)

	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h)

	srv := &http.Server{
		Addr:    envOr("LISTEN_ADDR", ":8080"),
		Handler: r,
	}

	go func() {
		log.Info("server starting", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", logger.Error(err))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
