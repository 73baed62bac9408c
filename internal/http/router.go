package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Amankrah/pathfinders/internal/http/handlers"
	"github.com/Amankrah/pathfinders/internal/http/middleware"
	"github.com/Amankrah/pathfinders/internal/modules/card"
	"github.com/Amankrah/pathfinders/internal/modules/momo"
	"github.com/Amankrah/pathfinders/internal/modules/payments"
	"github.com/Amankrah/pathfinders/internal/storage"
)

// NewRouter wires gateways, services and handlers from the environment and
// returns the configured engine.
func NewRouter(logger *slog.Logger, db *gorm.DB) (*gin.Engine, error) {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	momoClient := momo.NewClient(momo.ConfigFromEnv(), logger)

	cardProvider, err := card.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("card provider: %w", err)
	}

	archive, err := storage.FromEnv(context.Background())
	if err != nil {
		return nil, fmt.Errorf("webhook archive: %w", err)
	}
	logger.Info("webhook archive configured", "driver", archive.Driver)

	engine := payments.NewEngine(db, cardProvider, momoClient, logger)
	webhookSvc := payments.NewWebhookService(db, engine, archive.Archive, logger)
	reaper := payments.NewReaper(engine.Store(), logger)

	donations := handlers.NewDonationHandler(logger, engine)
	webhooks := handlers.NewWebhookHandler(logger, cardProvider, webhookSvc)
	admin := handlers.NewAdminHandler(logger, momoClient, reaper)

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.ErrorHandler(logger),
		middleware.Auth([]byte(jwtSecret)),
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/webhooks/card", webhooks.CardWebhook)
	r.POST("/webhooks/momo", webhooks.MomoWebhook)

	api := r.Group("/api")
	{
		donate := api.Group("/donate")
		donate.POST("/anonymous/card", donations.CreateCardAnonymous)
		donate.POST("/anonymous/momo", donations.CreateMomoAnonymous)

		authed := donate.Group("", middleware.RequireAuth())
		authed.POST("/card", donations.CreateCard)
		authed.POST("/momo", donations.CreateMomo)

		mine := api.Group("/donations", middleware.RequireAuth())
		mine.GET("", donations.List)
		mine.POST("/:id/cancel", donations.Cancel)
		mine.GET("/momo/:reference_id/status", donations.MomoStatus)

		adm := api.Group("/admin", middleware.RequireAdmin())
		adm.GET("/momo/balance", admin.MomoBalance)
		adm.POST("/payments/cleanup", admin.Cleanup)
	}

	return r, nil
}
