package momo

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gatewayStub fakes the provisioning + token endpoints and lets tests plug in
// behavior for collection calls.
type gatewayStub struct {
	t *testing.T

	apiUserCalls int32
	apiKeyCalls  int32
	tokenCalls   int32

	tokenStatus int // 0 => 200
	handle      func(w http.ResponseWriter, r *http.Request) bool
}

func (g *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1_0/apiuser":
		atomic.AddInt32(&g.apiUserCalls, 1)
		if r.Header.Get("X-Reference-Id") == "" {
			g.t.Error("apiuser call missing X-Reference-Id")
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "secondary" {
			g.t.Errorf("apiuser call used key %q, want secondary", r.Header.Get("Ocp-Apim-Subscription-Key"))
		}
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/apikey"):
		atomic.AddInt32(&g.apiKeyCalls, 1)
		json.NewEncoder(w).Encode(map[string]string{"apiKey": "k-123"})

	case r.Method == http.MethodPost && r.URL.Path == "/collection/token/":
		atomic.AddInt32(&g.tokenCalls, 1)
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
			g.t.Error("token call missing Basic auth")
		}
		if g.tokenStatus != 0 {
			w.WriteHeader(g.tokenStatus)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})

	default:
		if g.handle != nil && g.handle(w, r) {
			return
		}
		g.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, stub *gatewayStub) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:           srv.URL,
		SubscriptionKey:   "primary",
		SecondaryKey:      "secondary",
		TargetEnvironment: "sandbox",
		CallbackURL:       "https://example.com/webhooks/momo",
		CallbackHost:      "example.com",
		Timeout:           5 * time.Second,
	}
	c := NewClient(cfg, discardLogger())
	c.delay = time.Millisecond
	return c, srv
}

func TestRequestToPayHappyPath(t *testing.T) {
	var gotRef, gotEnv, gotCallback string
	var body map[string]any

	stub := &gatewayStub{t: t}
	stub.handle = func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodPost && r.URL.Path == "/collection/requesttopay" {
			gotRef = r.Header.Get("X-Reference-Id")
			gotEnv = r.Header.Get("X-Target-Environment")
			gotCallback = r.Header.Get("X-Callback-Url")
			json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusAccepted)
			return true
		}
		return false
	}

	c, _ := newTestClient(t, stub)
	res, err := c.RequestToPay(context.Background(), RequestToPayInput{
		AmountCents: 500,
		Currency:    "GHS",
		Phone:       "233244123456",
		ExternalID:  "donation_1",
	})
	if err != nil {
		t.Fatalf("RequestToPay: %v", err)
	}
	if res.Status != "pending" {
		t.Fatalf("status got %q want pending", res.Status)
	}
	if res.ReferenceID == "" || res.ReferenceID != gotRef {
		t.Fatalf("reference id mismatch: result %q header %q", res.ReferenceID, gotRef)
	}
	if gotEnv != "sandbox" {
		t.Fatalf("X-Target-Environment got %q", gotEnv)
	}
	if gotCallback != "https://example.com/webhooks/momo" {
		t.Fatalf("X-Callback-Url got %q", gotCallback)
	}
	if body["amount"] != "5.00" {
		t.Fatalf("wire amount got %v want 5.00", body["amount"])
	}
	payer := body["payer"].(map[string]any)
	if payer["partyId"] != "233244123456" || payer["partyIdType"] != "MSISDN" {
		t.Fatalf("payer got %v", payer)
	}
}

func TestProvisioningSingleFlight(t *testing.T) {
	stub := &gatewayStub{t: t}
	c, _ := newTestClient(t, stub)

	prov := c.tokens.prov
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := prov.Ensure(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Ensure: %v", err)
	}

	if n := atomic.LoadInt32(&stub.apiUserCalls); n != 1 {
		t.Fatalf("apiuser created %d times, want 1", n)
	}
	if n := atomic.LoadInt32(&stub.apiKeyCalls); n != 1 {
		t.Fatalf("apikey created %d times, want 1", n)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var statusCalls int32
	stub := &gatewayStub{t: t}
	stub.handle = func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/collection/requesttopay/") {
			n := atomic.AddInt32(&statusCalls, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return true
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status":                 StatusSuccessful,
				"amount":                 "5.00",
				"currency":               "GHS",
				"financialTransactionId": "f1",
			})
			return true
		}
		return false
	}

	c, _ := newTestClient(t, stub)
	res, err := c.PaymentStatus(context.Background(), "r1")
	if err != nil {
		t.Fatalf("PaymentStatus after retries: %v", err)
	}
	if res.Status != StatusSuccessful || res.FinancialTransactionID != "f1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if statusCalls != 3 {
		t.Fatalf("status endpoint called %d times, want 3", statusCalls)
	}
}

func TestBusinessErrorsFailFast(t *testing.T) {
	var calls int32
	stub := &gatewayStub{t: t}
	stub.handle = func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodPost && r.URL.Path == "/collection/requesttopay" {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"payer not found"}`))
			return true
		}
		return false
	}

	c, _ := newTestClient(t, stub)
	_, err := c.RequestToPay(context.Background(), RequestToPayInput{
		AmountCents: 500, Currency: "GHS", Phone: "233244123456",
	})
	gerr, ok := err.(*GatewayError)
	if !ok {
		t.Fatalf("want *GatewayError, got %T %v", err, err)
	}
	if gerr.StatusCode != http.StatusBadRequest {
		t.Fatalf("status got %d", gerr.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("4xx was retried: %d calls", calls)
	}
}

func TestExhaustedRetriesSurfaceGatewayError(t *testing.T) {
	var calls int32
	stub := &gatewayStub{t: t}
	stub.handle = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/collection/account/balance" {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return true
		}
		return false
	}

	c, _ := newTestClient(t, stub)
	_, err := c.AccountBalance(context.Background())
	gerr, ok := err.(*GatewayError)
	if !ok {
		t.Fatalf("want *GatewayError, got %T", err)
	}
	if gerr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status got %d", gerr.StatusCode)
	}
	if calls != 3 {
		t.Fatalf("5xx retried %d times, want 3 attempts", calls)
	}
}

func TestTokenRejectionReprovisions(t *testing.T) {
	stub := &gatewayStub{t: t, tokenStatus: http.StatusUnauthorized}
	c, _ := newTestClient(t, stub)

	_, err := c.tokens.Token(context.Background())
	authErr, ok := err.(*AuthError)
	if !ok {
		t.Fatalf("want *AuthError, got %T %v", err, err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status got %d", authErr.StatusCode)
	}

	// Credentials were invalidated; a later attempt provisions fresh ones.
	stub.tokenStatus = 0
	if _, err := c.tokens.Token(context.Background()); err != nil {
		t.Fatalf("second Token: %v", err)
	}
	if n := atomic.LoadInt32(&stub.apiUserCalls); n != 2 {
		t.Fatalf("apiuser created %d times, want 2 (re-provisioned)", n)
	}
}

func TestUnauthorizedCollectionCallNotRetried(t *testing.T) {
	var calls int32
	stub := &gatewayStub{t: t}
	stub.handle = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/collection/account/balance" {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
			return true
		}
		return false
	}

	c, _ := newTestClient(t, stub)
	if _, err := c.AccountBalance(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("401 was retried: %d calls", calls)
	}
	// Cached token must have been dropped.
	c.tokens.mu.Lock()
	tok := c.tokens.token
	c.tokens.mu.Unlock()
	if tok != "" {
		t.Fatal("token cache not invalidated after 401")
	}
}

func TestValidateAccountHolderParsesBareBoolean(t *testing.T) {
	stub := &gatewayStub{t: t}
	stub.handle = func(w http.ResponseWriter, r *http.Request) bool {
		if strings.HasPrefix(r.URL.Path, "/collection/accountholder/msisdn/") {
			w.Write([]byte("true"))
			return true
		}
		return false
	}

	c, _ := newTestClient(t, stub)
	res, err := c.ValidateAccountHolder(context.Background(), "233244123456")
	if err != nil {
		t.Fatalf("ValidateAccountHolder: %v", err)
	}
	if !res.IsActive {
		t.Fatal("want active account")
	}
}

func TestNormalizeMSISDN(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"0244123456", "233244123456", true},
		{"233244123456", "233244123456", true},
		{"244123456", "233244123456", true},
		{"+233 24 412-3456", "233244123456", true},
		{"024 412 3456", "233244123456", true},
		{"", "", false},
		{"abc", "", false},
	}
	for _, c := range cases {
		got, err := NormalizeMSISDN(c.in)
		if (err == nil) != c.ok {
			t.Fatalf("NormalizeMSISDN(%q) ok=%v err=%v", c.in, c.ok, err)
		}
		if err == nil && got != c.want {
			t.Fatalf("NormalizeMSISDN(%q) got %q want %q", c.in, got, c.want)
		}
	}
}
