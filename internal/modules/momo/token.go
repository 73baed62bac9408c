package momo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const tokenExpirySlack = 30 * time.Second

// TokenManager exchanges provisioned credentials for short-lived bearer
// tokens. Tokens are cached until shortly before expiry; a 401/403 from the
// token endpoint means bad credentials and triggers re-provisioning, while
// transient failures leave the credential cache alone.
type TokenManager struct {
	cfg    Config
	prov   *Provisioner
	httpc  *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenManager(cfg Config, prov *Provisioner, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		cfg:    cfg,
		prov:   prov,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.token != "" && time.Now().Before(m.expiresAt.Add(-tokenExpirySlack)) {
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	creds, err := m.prov.Ensure(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/collection/token/", nil)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	basic := base64.StdEncoding.EncodeToString([]byte(creds.APIUserID + ":" + creds.APIKey))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("X-Reference-Id", uuid.NewString())
	req.Header.Set("X-Target-Environment", m.cfg.TargetEnvironment)
	req.Header.Set("Ocp-Apim-Subscription-Key", m.cfg.SubscriptionKey)

	res, err := m.httpc.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	if res.StatusCode != http.StatusOK {
		authErr := &AuthError{StatusCode: res.StatusCode, Body: string(body)}
		if authErr.credentialRejected() {
			m.logger.Warn("momo token endpoint rejected credentials, re-provisioning",
				"status", res.StatusCode)
			m.prov.Invalidate()
		}
		return "", authErr
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.AccessToken == "" {
		return "", &AuthError{StatusCode: res.StatusCode, Body: string(body), Err: err}
	}

	ttl := time.Duration(parsed.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}

	m.mu.Lock()
	m.token = parsed.AccessToken
	m.expiresAt = time.Now().Add(ttl)
	m.mu.Unlock()

	return parsed.AccessToken, nil
}

// Invalidate drops the cached token so the next call mints a fresh one.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()
}
