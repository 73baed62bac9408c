package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Amankrah/pathfinders/internal/http/middleware"
	"github.com/Amankrah/pathfinders/internal/http/validation"
	"github.com/Amankrah/pathfinders/internal/modules/momo"
	"github.com/Amankrah/pathfinders/internal/modules/payments"
	"github.com/Amankrah/pathfinders/internal/shared/apperr"
)

// AdminHandler exposes operator endpoints: gateway account balance and the
// manual stale-intent sweep. Route-level auth is expected in front of it.
type AdminHandler struct {
	Logger *slog.Logger
	Momo   *momo.Client
	Reaper *payments.Reaper
}

func NewAdminHandler(logger *slog.Logger, momoClient *momo.Client, reaper *payments.Reaper) *AdminHandler {
	return &AdminHandler{Logger: logger, Momo: momoClient, Reaper: reaper}
}

// GET /api/admin/momo/balance
func (h *AdminHandler) MomoBalance(c *gin.Context) {
	bal, err := h.Momo.AccountBalance(c.Request.Context())
	if err != nil {
		middleware.Fail(c, apperr.GatewayErr("Could not fetch gateway balance.", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"available_balance": bal.AvailableBalance,
		"currency":          bal.Currency,
	})
}

type cleanupRequest struct {
	Hours  int  `json:"hours" binding:"omitempty,gt=0"`
	DryRun bool `json:"dry_run"`
}

// POST /api/admin/payments/cleanup
func (h *AdminHandler) Cleanup(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.Fail(c, apperr.InvalidErr("Invalid cleanup request.", validation.FromBindError(err, &req)))
		return
	}
	if req.Hours == 0 {
		req.Hours = 1
	}

	n, err := h.Reaper.Sweep(c.Request.Context(), time.Duration(req.Hours)*time.Hour, req.DryRun)
	if err != nil {
		middleware.Fail(c, apperr.Wrap(err))
		return
	}

	resp := gin.H{"dry_run": req.DryRun, "older_than_hours": req.Hours}
	if req.DryRun {
		resp["would_delete"] = n
	} else {
		resp["deleted"] = n
	}
	c.JSON(http.StatusOK, resp)
}
