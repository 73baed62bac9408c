package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Amankrah/pathfinders/internal/shared/money"
)

const (
	maxAttempts = 3
	retryDelay  = 2 * time.Second
)

// Gateway status values as reported by requesttopay status and callbacks.
const (
	StatusSuccessful = "SUCCESSFUL"
	StatusFailed     = "FAILED"
	StatusPending    = "PENDING"
)

// Client issues collection calls. Every operation mints/uses a bearer token,
// attaches X-Target-Environment and the subscription key, and normalizes any
// failure into *GatewayError. Transport and 5xx failures are retried with
// linear backoff; 4xx business errors and auth failures are not.
type Client struct {
	cfg    Config
	tokens *TokenManager
	httpc  *http.Client
	logger *slog.Logger

	// overridable in tests
	attempts int
	delay    time.Duration
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	prov := NewProvisioner(cfg, logger)
	return &Client{
		cfg:      cfg,
		tokens:   NewTokenManager(cfg, prov, logger),
		httpc:    &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		attempts: maxAttempts,
		delay:    retryDelay,
	}
}

type ValidateResult struct {
	Phone    string
	IsActive bool
}

type RequestToPayInput struct {
	AmountCents  int64
	Currency     string
	Phone        string // normalized MSISDN
	ExternalID   string
	PayerMessage string
	PayeeNote    string
}

type RequestToPayResult struct {
	ReferenceID string // minted locally before the call; the correlation key
	Status      string // always "pending" on 202
}

type PaymentStatusResult struct {
	ReferenceID            string
	Status                 string
	Amount                 string
	Currency               string
	FinancialTransactionID string
	ExternalID             string
	PayerMessage           string
	PayeeNote              string
	Reason                 string
}

type BalanceResult struct {
	AvailableBalance string
	Currency         string
}

// ValidateAccountHolder reports whether the MSISDN is registered with the
// mobile-money network.
func (c *Client) ValidateAccountHolder(ctx context.Context, phone string) (ValidateResult, error) {
	url := c.cfg.BaseURL + "/collection/accountholder/msisdn/" + phone + "/active"
	body, gerr := c.do(ctx, "validate", http.MethodGet, url, nil, nil, http.StatusOK)
	if gerr != nil {
		return ValidateResult{}, gerr
	}

	active := false
	if len(body) > 0 {
		var parsed struct {
			Result bool `json:"result"`
		}
		// Sandbox returns a bare boolean, live wraps it.
		if err := json.Unmarshal(body, &active); err != nil {
			if err := json.Unmarshal(body, &parsed); err == nil {
				active = parsed.Result
			}
		}
	}
	return ValidateResult{Phone: phone, IsActive: active}, nil
}

// RequestToPay initiates a collection. The reference id is generated locally
// before the call and used for all later status correlation, independent of
// the gateway's own transaction id. 202 is the only success code.
func (c *Client) RequestToPay(ctx context.Context, in RequestToPayInput) (RequestToPayResult, error) {
	referenceID := uuid.NewString()

	externalID := in.ExternalID
	if externalID == "" {
		externalID = uuid.NewString()
	}
	payerMessage := in.PayerMessage
	if payerMessage == "" {
		payerMessage = "Donation to Pathfinders - " + money.FormatWithCurrency(in.AmountCents, in.Currency)
	}
	payeeNote := in.PayeeNote
	if payeeNote == "" {
		payeeNote = "Thank you for your donation"
	}

	payload := map[string]any{
		"amount":     money.FormatMinor(in.AmountCents),
		"currency":   in.Currency,
		"externalId": externalID,
		"payer": map[string]string{
			"partyIdType": "MSISDN",
			"partyId":     in.Phone,
		},
		"payerMessage": payerMessage,
		"payeeNote":    payeeNote,
	}
	body, _ := json.Marshal(payload)

	extra := map[string]string{"X-Reference-Id": referenceID}
	if c.cfg.CallbackURL != "" {
		extra["X-Callback-Url"] = c.cfg.CallbackURL
	}

	if _, gerr := c.do(ctx, "requesttopay", http.MethodPost, c.cfg.BaseURL+"/collection/requesttopay", body, extra, http.StatusAccepted); gerr != nil {
		// The reference id travels with the failure: if the outcome is
		// unknown (timeout) the caller can still reconcile against it later.
		return RequestToPayResult{ReferenceID: referenceID}, gerr
	}

	c.logger.Info("momo request to pay accepted", "reference_id", referenceID, "external_id", externalID)
	return RequestToPayResult{ReferenceID: referenceID, Status: "pending"}, nil
}

// PaymentStatus fetches the live state of a request-to-pay.
func (c *Client) PaymentStatus(ctx context.Context, referenceID string) (PaymentStatusResult, error) {
	url := c.cfg.BaseURL + "/collection/requesttopay/" + referenceID
	body, gerr := c.do(ctx, "status", http.MethodGet, url, nil, nil, http.StatusOK)
	if gerr != nil {
		return PaymentStatusResult{}, gerr
	}

	var parsed struct {
		Status                 string          `json:"status"`
		Amount                 string          `json:"amount"`
		Currency               string          `json:"currency"`
		FinancialTransactionID string          `json:"financialTransactionId"`
		ExternalID             string          `json:"externalId"`
		PayerMessage           string          `json:"payerMessage"`
		PayeeNote              string          `json:"payeeNote"`
		Reason                 json.RawMessage `json:"reason"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return PaymentStatusResult{}, &GatewayError{Op: "status", StatusCode: http.StatusOK, Body: string(body), Err: err}
	}

	return PaymentStatusResult{
		ReferenceID:            referenceID,
		Status:                 parsed.Status,
		Amount:                 parsed.Amount,
		Currency:               parsed.Currency,
		FinancialTransactionID: parsed.FinancialTransactionID,
		ExternalID:             parsed.ExternalID,
		PayerMessage:           parsed.PayerMessage,
		PayeeNote:              parsed.PayeeNote,
		Reason:                 rawToString(parsed.Reason),
	}, nil
}

// AccountBalance returns the collection account balance.
func (c *Client) AccountBalance(ctx context.Context) (BalanceResult, error) {
	url := c.cfg.BaseURL + "/collection/account/balance"
	body, gerr := c.do(ctx, "balance", http.MethodGet, url, nil, nil, http.StatusOK)
	if gerr != nil {
		return BalanceResult{}, gerr
	}

	var parsed struct {
		AvailableBalance string `json:"availableBalance"`
		Currency         string `json:"currency"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return BalanceResult{}, &GatewayError{Op: "balance", StatusCode: http.StatusOK, Body: string(body), Err: err}
	}
	return BalanceResult{AvailableBalance: parsed.AvailableBalance, Currency: parsed.Currency}, nil
}

// do runs one operation with auth, retrying transient failures with linear
// backoff (attempt * delay). The backoff waits on a timer and the context so
// a cancelled caller is never held for the full delay.
func (c *Client) do(ctx context.Context, op, method, url string, body []byte, extraHeaders map[string]string, wantStatus int) ([]byte, *GatewayError) {
	var last *GatewayError

	for attempt := 1; attempt <= c.attempts; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			// Credential/token failures are surfaced, never retried here.
			return nil, &GatewayError{Op: op, Err: err}
		}

		resBody, gerr := c.once(ctx, op, method, url, body, extraHeaders, token, wantStatus)
		if gerr == nil {
			return resBody, nil
		}
		if gerr.StatusCode == http.StatusUnauthorized {
			// Token went stale; drop it so the caller's next attempt mints a
			// fresh one, but do not auto-retry an authorization failure.
			c.tokens.Invalidate()
			return nil, gerr
		}
		if !gerr.transient() {
			return nil, gerr
		}

		last = gerr
		if attempt == c.attempts {
			break
		}

		wait := time.Duration(attempt) * c.delay
		c.logger.Warn("momo call failed, retrying",
			"op", op, "attempt", attempt, "wait", wait, "err", gerr.Error())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &GatewayError{Op: op, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return nil, last
}

func (c *Client) once(ctx context.Context, op, method, url string, body []byte, extraHeaders map[string]string, token string, wantStatus int) ([]byte, *GatewayError) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Target-Environment", c.cfg.TargetEnvironment)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)

	if res.StatusCode != wantStatus {
		return nil, &GatewayError{Op: op, StatusCode: res.StatusCode, Body: string(resBody)}
	}
	return resBody, nil
}

func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
