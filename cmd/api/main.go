package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	apphttp "github.com/Amankrah/pathfinders/internal/http"
	"github.com/Amankrah/pathfinders/internal/modules/payments"
)

func main() {
	// Load .env file (ignore error if not found - prod uses real env vars)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN environment variable is required")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	r, err := apphttp.NewRouter(logger, db)
	if err != nil {
		log.Fatalf("failed to build router: %v", err)
	}

	// Background sweep of pending intents that never resolved.
	if interval := envMinutes("REAPER_INTERVAL_MINUTES"); interval > 0 {
		ttl := time.Hour
		if h := envMinutes("REAPER_TTL_MINUTES"); h > 0 {
			ttl = h
		}
		reaper := payments.NewReaper(payments.NewStore(db), logger)
		go reaper.Run(context.Background(), interval, ttl)
		logger.Info("stale intent reaper started", "interval", interval.String(), "ttl", ttl.String())
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if err := r.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func envMinutes(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Minute
}
