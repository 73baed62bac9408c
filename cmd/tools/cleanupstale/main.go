package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/Amankrah/pathfinders/internal/modules/payments"
)

func main() {
	hours := flag.Int("hours", 1, "Delete pending intents older than this many hours")
	dryRun := flag.Bool("dry-run", false, "Only report what would be deleted")
	flag.Parse()

	if *hours <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -hours must be positive")
		os.Exit(1)
	}

	_ = godotenv.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN environment variable is required")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	reaper := payments.NewReaper(payments.NewStore(db), logger)

	n, err := reaper.Sweep(context.Background(), time.Duration(*hours)*time.Hour, *dryRun)
	if err != nil {
		log.Fatalf("sweep failed: %v", err)
	}

	if *dryRun {
		fmt.Printf("Would delete %d stale pending intent(s) older than %dh\n", n, *hours)
	} else {
		fmt.Printf("Deleted %d stale pending intent(s) older than %dh\n", n, *hours)
	}
}
