package config

import (
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var (
	appOnce   sync.Once
	appConfig *AppConfig
)

// AppConfig holds everything that is not storage-backend specific.
type AppConfig struct {
	RedisAddr string
	RedisDB   int

	DataDir string // SQLite database directory

	// Upload limits. MaxUploadBytes gates upload initiation and is the
	// authoritative ceiling; MaxValidateBytes is the looser backstop applied
	// at raw validation time.
	MaxUploadBytes   int64
	MaxValidateBytes int64

	// Per-user upload rate limiting.
	UploadRatePerMin int
	UploadBurst      int

	// Render tuning.
	RenderInitialWindow int
	RenderBatchSize     int
	RenderScale         float64 // device-pixel-ratio base
	RenderSharpness     float64 // secondary multiplier
	RenderCacheTTL      time.Duration

	PageBatchSize int // page rows per insert transaction
}

// GetAppConfig loads the application configuration once from the
// environment, with .env support for local development.
func GetAppConfig() *AppConfig {
	appOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Printf("Warning: .env file not found, falling back to environment variables")
		}

		appConfig = &AppConfig{
			RedisAddr: envOr("REDIS_ADDR", "localhost:6379"),
			RedisDB:   envIntOr("REDIS_DB", 0),

			DataDir: envOr("DATA_DIR", "./data"),

			MaxUploadBytes:   envInt64Or("MAX_UPLOAD_BYTES", 20<<20),
			MaxValidateBytes: envInt64Or("MAX_VALIDATE_BYTES", 50<<20),

			UploadRatePerMin: envIntOr("UPLOAD_RATE_PER_MIN", 10),
			UploadBurst:      envIntOr("UPLOAD_BURST", 3),

			RenderInitialWindow: envIntOr("RENDER_INITIAL_WINDOW", 6),
			RenderBatchSize:     envIntOr("RENDER_BATCH_SIZE", 12),
			RenderScale:         envFloatOr("RENDER_SCALE", 2.0),
			RenderSharpness:     envFloatOr("RENDER_SHARPNESS", 1.5),
			RenderCacheTTL:      envDurationOr("RENDER_CACHE_TTL", 7*24*time.Hour),

			PageBatchSize: envIntOr("PAGE_BATCH_SIZE", 50),
		}
	})
	return appConfig
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64Or(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloatOr(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
