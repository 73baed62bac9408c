package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Amankrah/pathfinders/internal/http/middleware"
	"github.com/Amankrah/pathfinders/internal/http/validation"
	"github.com/Amankrah/pathfinders/internal/modules/payments"
	"github.com/Amankrah/pathfinders/internal/shared/apperr"
	"github.com/Amankrah/pathfinders/internal/shared/money"
)

type DonationHandler struct {
	Logger *slog.Logger
	Engine *payments.Engine
}

func NewDonationHandler(logger *slog.Logger, engine *payments.Engine) *DonationHandler {
	return &DonationHandler{Logger: logger, Engine: engine}
}

type cardDonationRequest struct {
	Amount     money.Amount `json:"amount" binding:"required"`
	Currency   string       `json:"currency" binding:"required,min=3,max=3"`
	Purpose    string       `json:"purpose" binding:"omitempty,oneof=donation assessment_fee"`
	Message    string       `json:"message" binding:"omitempty,max=500"`
	Email      string       `json:"email" binding:"omitempty,email"`
	SuccessURL string       `json:"success_url" binding:"omitempty,url"`
	CancelURL  string       `json:"cancel_url" binding:"omitempty,url"`
}

type momoDonationRequest struct {
	Amount   money.Amount `json:"amount" binding:"required"`
	Currency string       `json:"currency" binding:"required,min=3,max=3"`
	Phone    string       `json:"phone" binding:"required"`
	Purpose  string       `json:"purpose" binding:"omitempty,oneof=donation assessment_fee"`
	Message  string       `json:"message" binding:"omitempty,max=500"`
}

// POST /api/donate/card
func (h *DonationHandler) CreateCard(c *gin.Context) {
	uid, _ := middleware.CurrentUserID(c)
	h.createCard(c, &uid)
}

// POST /api/donate/anonymous/card
func (h *DonationHandler) CreateCardAnonymous(c *gin.Context) {
	h.createCard(c, nil)
}

func (h *DonationHandler) createCard(c *gin.Context, ownerID *string) {
	var req cardDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid donation request.", validation.FromBindError(err, &req)))
		return
	}

	res, err := h.Engine.SubmitDonation(c.Request.Context(), payments.SubmitDonationInput{
		OwnerID:     ownerID,
		Channel:     payments.ChannelCard,
		Purpose:     req.Purpose,
		AmountCents: req.Amount.Cents(),
		Currency:    req.Currency,
		Message:     req.Message,
		Email:       req.Email,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
	})
	if err != nil {
		middleware.Fail(c, donationError(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"intent_id":    res.IntentID,
		"status":       res.Status,
		"session_id":   res.SessionID,
		"checkout_url": res.CheckoutURL,
	})
}

// POST /api/donate/momo
func (h *DonationHandler) CreateMomo(c *gin.Context) {
	uid, _ := middleware.CurrentUserID(c)
	h.createMomo(c, &uid)
}

// POST /api/donate/anonymous/momo
func (h *DonationHandler) CreateMomoAnonymous(c *gin.Context) {
	h.createMomo(c, nil)
}

func (h *DonationHandler) createMomo(c *gin.Context, ownerID *string) {
	var req momoDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid donation request.", validation.FromBindError(err, &req)))
		return
	}

	res, err := h.Engine.SubmitDonation(c.Request.Context(), payments.SubmitDonationInput{
		OwnerID:     ownerID,
		Channel:     payments.ChannelMobileMoney,
		Purpose:     req.Purpose,
		AmountCents: req.Amount.Cents(),
		Currency:    req.Currency,
		Phone:       req.Phone,
		Message:     req.Message,
	})
	if err != nil {
		middleware.Fail(c, donationError(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"intent_id":    res.IntentID,
		"status":       res.Status,
		"reference_id": res.CorrelationID,
	})
}

// GET /api/donations
func (h *DonationHandler) List(c *gin.Context) {
	uid, _ := middleware.CurrentUserID(c)

	intents, err := h.Engine.ListDonations(c.Request.Context(), uid)
	if err != nil {
		middleware.Fail(c, apperr.Wrap(err))
		return
	}

	items := make([]gin.H, 0, len(intents))
	for _, it := range intents {
		item := gin.H{
			"intent_id":  it.ID,
			"channel":    it.Channel,
			"purpose":    it.Purpose,
			"amount":     money.FormatMinor(it.AmountCents),
			"currency":   it.Currency,
			"status":     it.Status,
			"message":    it.Message,
			"created_at": it.CreatedAt,
		}
		if it.GatewayCorrelationID != nil {
			item["reference_id"] = *it.GatewayCorrelationID
		}
		if it.FinancialTransactionID != nil {
			item["financial_transaction_id"] = *it.FinancialTransactionID
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{"donations": items})
}

// POST /api/donations/:id/cancel
func (h *DonationHandler) Cancel(c *gin.Context) {
	uid, _ := middleware.CurrentUserID(c)

	if err := h.Engine.CancelDonation(c.Request.Context(), uid, c.Param("id")); err != nil {
		middleware.Fail(c, donationError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GET /api/donations/momo/:reference_id/status
func (h *DonationHandler) MomoStatus(c *gin.Context) {
	uid, _ := middleware.CurrentUserID(c)

	res, err := h.Engine.CheckMobileMoneyStatus(c.Request.Context(), uid, c.Param("reference_id"))
	if err != nil {
		middleware.Fail(c, donationError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference_id":             res.ReferenceID,
		"status":                   res.Status,
		"amount":                   res.Amount,
		"currency":                 res.Currency,
		"financial_transaction_id": res.FinancialTransactionID,
		"reason":                   res.Reason,
	})
}

func donationError(err error) error {
	var gf *payments.GatewayFailure
	switch {
	case errors.Is(err, payments.ErrInvalidAmount):
		return apperr.InvalidErr("Donation amount must be greater than zero.", nil)
	case errors.Is(err, payments.ErrInvalidChannel):
		return apperr.InvalidErr("Unsupported payment channel.", nil)
	case errors.Is(err, payments.ErrPhoneRequired):
		return apperr.InvalidErr("Phone number is required for mobile money.", map[string]string{"phone": "This field is required."})
	case errors.Is(err, payments.ErrInvalidPhone):
		return apperr.InvalidErr("Phone number is not a valid MSISDN.", map[string]string{"phone": "Invalid value."})
	case errors.Is(err, payments.ErrPendingExists):
		return apperr.ConflictErr("You already have a pending donation on this channel.")
	case errors.Is(err, payments.ErrIntentNotFound):
		return apperr.NotFoundErr("Donation not found.")
	case errors.Is(err, payments.ErrNotCancellable):
		return apperr.NotFoundErr("No pending donation to cancel.")
	case errors.As(err, &gf):
		return apperr.GatewayErr("Payment gateway is unavailable, please try again.", err)
	default:
		return apperr.Wrap(err)
	}
}
