package main

import (
	"log"
	"os"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN environment variable is required")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get DB: %v", err)
	}

	sql := `
	CREATE TABLE IF NOT EXISTS payment_intents (
	  id CHAR(36) NOT NULL,
	  owner_id CHAR(36) NULL,
	  channel VARCHAR(20) NOT NULL,
	  purpose VARCHAR(20) NOT NULL DEFAULT 'donation',
	  amount_cents BIGINT NOT NULL,
	  currency VARCHAR(10) NOT NULL,
	  gateway_correlation_id VARCHAR(128) NULL,
	  financial_transaction_id VARCHAR(128) NULL,
	  status VARCHAR(20) NOT NULL DEFAULT 'pending',
	  message VARCHAR(500) NOT NULL DEFAULT '',
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  UNIQUE KEY ux_payment_intents_correlation (gateway_correlation_id),
	  KEY ix_payment_intents_owner_channel (owner_id, channel),
	  KEY ix_payment_intents_status (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

	CREATE TABLE IF NOT EXISTS provider_events (
	  id CHAR(36) NOT NULL,
	  provider VARCHAR(32) NOT NULL,
	  event_id VARCHAR(191) NOT NULL,
	  event_type VARCHAR(64) NOT NULL,
	  payload_json JSON NULL,
	  archive_key VARCHAR(255) NULL,
	  received_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  processed_at DATETIME(3) NULL,
	  PRIMARY KEY (id),
	  UNIQUE KEY ux_provider_events_event (provider, event_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`

	if _, err := sqlDB.Exec(sql); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	log.Println("Tables created successfully")
}
