package card

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func signedHeaders(secret []byte, ts int64, body []byte) http.Header {
	h := http.Header{}
	sig := hex.EncodeToString(ComputeSignature(secret, ts, body))
	h.Set(SignatureHeader, fmt.Sprintf("t=%d,v1=%s", ts, sig))
	return h
}

func TestVerifyAndParseWebhook(t *testing.T) {
	secret := []byte("whsec_test")
	g := NewMockGateway(secret, "http://localhost:8080")
	now := time.Unix(1700000000, 0)
	g.now = func() time.Time { return now }

	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"payment_intent":"pi_123","metadata":{"message":"hi"}}}`)

	ev, err := g.VerifyAndParseWebhook(signedHeaders(secret, now.Unix(), body), body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != EventCheckoutCompleted || ev.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Metadata["message"] != "hi" {
		t.Fatalf("metadata not parsed: %+v", ev.Metadata)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	secret := []byte("whsec_test")
	g := NewMockGateway(secret, "http://localhost:8080")
	now := time.Unix(1700000000, 0)
	g.now = func() time.Time { return now }

	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{}}`)

	t.Run("missing header", func(t *testing.T) {
		if _, err := g.VerifyAndParseWebhook(http.Header{}, body); err != ErrSignature {
			t.Fatalf("want ErrSignature, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		h := signedHeaders([]byte("other"), now.Unix(), body)
		if _, err := g.VerifyAndParseWebhook(h, body); err != ErrSignature {
			t.Fatalf("want ErrSignature, got %v", err)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		h := signedHeaders(secret, now.Unix(), body)
		tampered := []byte(strings.Replace(string(body), "evt_1", "evt_2", 1))
		if _, err := g.VerifyAndParseWebhook(h, tampered); err != ErrSignature {
			t.Fatalf("want ErrSignature, got %v", err)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := now.Add(-10 * time.Minute).Unix()
		h := signedHeaders(secret, old, body)
		if _, err := g.VerifyAndParseWebhook(h, body); err != ErrSignature {
			t.Fatalf("want ErrSignature, got %v", err)
		}
	})
}

func TestCreateCheckoutSession(t *testing.T) {
	g := NewMockGateway([]byte("s"), "http://localhost:8080/")
	sess, err := g.CreateCheckoutSession(context.Background(), CheckoutInput{
		AmountCents: 500, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if !strings.HasPrefix(sess.SessionID, "cs_") || !strings.HasPrefix(sess.PaymentIntentID, "pi_") {
		t.Fatalf("unexpected ids: %+v", sess)
	}
	if !strings.HasPrefix(sess.CheckoutURL, "http://localhost:8080/mock-checkout/") {
		t.Fatalf("unexpected checkout url: %s", sess.CheckoutURL)
	}
}
