package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cfg "github.com/pagewise/reader/config"
	"github.com/pagewise/reader/internal/convert"
	"github.com/pagewise/reader/internal/ingest"
	"github.com/pagewise/reader/internal/store/sqlite"
	"github.com/pagewise/reader/pkg/logger"
	"github.com/pagewise/reader/pkg/queue"
	"github.com/pagewise/reader/pkg/storage"
	"github.com/pagewise/reader/pkg/worker"
)

func main() {
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
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

	orchestrator := ingest.NewOrchestrator(db.Documents(), db.Pages(), files, tasks, log)
	conversions := convert.NewService(db.Documents(), files, tasks, convert.NewEPUBEngine(), log)

	workerCfg := &worker.Config{
		RedisAddr:   app.RedisAddr,
		RedisDB:     app.RedisDB,
		Concurrency: 10,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	}

	pipelineWorker, err := worker.NewPipelineWorker(workerCfg, orchestrator, conversions, tasks, log)
	if err != nil {
		log.Fatal("failed to create pipeline worker", logger.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pipelineWorker.Start(ctx); err != nil {
		log.Fatal("failed to start worker", logger.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down worker...")
	pipelineWorker.Stop()
	log.Info("worker stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
