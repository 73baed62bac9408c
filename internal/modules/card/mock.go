package card

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader  = "X-Card-Signature"
	signatureMaxSkew = 5 * time.Minute
)

// MockGateway is the development stand-in for the hosted-checkout provider.
// It issues fake sessions and verifies the t=..,v1=.. HMAC-SHA256 signature
// scheme that cmd/tools/mockwebhook produces.
type MockGateway struct {
	Secret  []byte
	BaseURL string

	now func() time.Time // test hook
}

func NewMockGateway(secret []byte, baseURL string) *MockGateway {
	return &MockGateway{Secret: secret, BaseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

func FromEnv() (Provider, error) {
	provider := os.Getenv("CARD_GATEWAY_PROVIDER")
	if provider == "" {
		provider = "mock"
	}
	switch provider {
	case "mock":
		secret := os.Getenv("CARD_WEBHOOK_SECRET")
		if secret == "" {
			return nil, fmt.Errorf("CARD_WEBHOOK_SECRET is required")
		}
		base := os.Getenv("BASE_URL")
		if base == "" {
			base = "http://localhost:8080"
		}
		return NewMockGateway([]byte(secret), base), nil
	default:
		return nil, fmt.Errorf("unknown CARD_GATEWAY_PROVIDER: %s", provider)
	}
}

func (g *MockGateway) Name() string { return "mockcard" }

func (g *MockGateway) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (CheckoutSession, error) {
	_ = ctx
	sessionID := "cs_" + randHex(12)
	intentID := "pi_" + randHex(12)
	return CheckoutSession{
		SessionID:       sessionID,
		CheckoutURL:     g.BaseURL + "/mock-checkout/" + sessionID,
		PaymentIntentID: intentID,
	}, nil
}

type mockEventPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		PaymentIntent string            `json:"payment_intent"`
		Metadata      map[string]string `json:"metadata"`
	} `json:"data"`
}

func (g *MockGateway) VerifyAndParseWebhook(headers http.Header, body []byte) (Event, error) {
	header := headers.Get(SignatureHeader)
	if header == "" {
		return Event{}, ErrSignature
	}

	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, _ = strconv.ParseInt(v, 10, 64)
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return Event{}, ErrSignature
	}

	age := g.now().Sub(time.Unix(ts, 0))
	if age > signatureMaxSkew || age < -signatureMaxSkew {
		return Event{}, ErrSignature
	}

	want := ComputeSignature(g.Secret, ts, body)
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, want) {
		return Event{}, ErrSignature
	}

	var payload mockEventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if payload.ID == "" || payload.Type == "" {
		return Event{}, fmt.Errorf("webhook payload missing id or type")
	}

	return Event{
		ID:              payload.ID,
		Type:            payload.Type,
		PaymentIntentID: payload.Data.PaymentIntent,
		Metadata:        payload.Data.Metadata,
	}, nil
}

// ComputeSignature signs "<timestamp>.<body>". Shared with the mockwebhook tool.
func ComputeSignature(secret []byte, ts int64, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return mac.Sum(nil)
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
