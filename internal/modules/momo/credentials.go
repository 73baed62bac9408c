package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Credentials is the API identity used to mint access tokens. It lives for
// the process lifetime only and is never persisted.
type Credentials struct {
	APIUserID string
	APIKey    string
}

// Provisioner creates and caches the gateway API identity. Concurrent
// first-time callers are collapsed into one provisioning flight so we never
// race to create duplicate API users.
type Provisioner struct {
	cfg    Config
	httpc  *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	creds *Credentials

	group singleflight.Group
}

func NewProvisioner(cfg Config, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (p *Provisioner) cached() *Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds
}

// Ensure returns cached credentials or provisions new ones: create an API
// user under a fresh reference id, then create its key. Both calls use the
// secondary subscription key; either failing fails the whole operation.
func (p *Provisioner) Ensure(ctx context.Context) (Credentials, error) {
	if c := p.cached(); c != nil {
		return *c, nil
	}

	v, err, _ := p.group.Do("provision", func() (any, error) {
		// A concurrent flight may have filled the cache while we waited.
		if c := p.cached(); c != nil {
			return *c, nil
		}

		userID, err := p.createAPIUser(ctx)
		if err != nil {
			return nil, err
		}
		key, err := p.createAPIKey(ctx, userID)
		if err != nil {
			return nil, err
		}

		creds := Credentials{APIUserID: userID, APIKey: key}
		p.mu.Lock()
		p.creds = &creds
		p.mu.Unlock()

		p.logger.Info("momo API credentials provisioned", "api_user_id", userID)
		return creds, nil
	})
	if err != nil {
		return Credentials{}, err
	}
	return v.(Credentials), nil
}

// Invalidate drops the cached identity. Called when the token endpoint
// rejects the credentials; the next Ensure provisions fresh ones.
func (p *Provisioner) Invalidate() {
	p.mu.Lock()
	p.creds = nil
	p.mu.Unlock()
}

func (p *Provisioner) createAPIUser(ctx context.Context) (string, error) {
	referenceID := uuid.NewString()

	body, _ := json.Marshal(map[string]string{
		"providerCallbackHost": p.cfg.CallbackHost,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1_0/apiuser", bytes.NewReader(body))
	if err != nil {
		return "", &ProvisionError{Stage: "apiuser", Err: err}
	}
	req.Header.Set("X-Reference-Id", referenceID)
	req.Header.Set("Ocp-Apim-Subscription-Key", p.cfg.SecondaryKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := p.httpc.Do(req)
	if err != nil {
		return "", &ProvisionError{Stage: "apiuser", Err: err}
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return "", &ProvisionError{Stage: "apiuser", StatusCode: res.StatusCode, Body: string(resBody)}
	}

	// The reference id we generated IS the API user id.
	return referenceID, nil
}

func (p *Provisioner) createAPIKey(ctx context.Context, apiUserID string) (string, error) {
	url := p.cfg.BaseURL + "/v1_0/apiuser/" + apiUserID + "/apikey"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", &ProvisionError{Stage: "apikey", Err: err}
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.cfg.SecondaryKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := p.httpc.Do(req)
	if err != nil {
		return "", &ProvisionError{Stage: "apikey", Err: err}
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return "", &ProvisionError{Stage: "apikey", StatusCode: res.StatusCode, Body: string(resBody)}
	}

	var parsed struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal(resBody, &parsed); err != nil || parsed.APIKey == "" {
		return "", &ProvisionError{Stage: "apikey", StatusCode: res.StatusCode, Body: string(resBody), Err: err}
	}
	return parsed.APIKey, nil
}
