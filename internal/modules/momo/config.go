// Package momo implements the MTN Mobile Money collection API: automatic
// API-user/key provisioning, token minting, and the four collection calls
// (validate account holder, request to pay, payment status, balance).
package momo

import (
	"os"
	"time"
)

const (
	sandboxBaseURL = "https://sandbox.momodeveloper.mtn.com"
	liveBaseURL    = "https://momodeveloper.mtn.com"
)

type Config struct {
	BaseURL string

	// SubscriptionKey (primary) authorizes token minting and collection
	// calls; SecondaryKey authorizes API-user/key creation.
	SubscriptionKey string
	SecondaryKey    string

	TargetEnvironment string // "sandbox" or "live"
	CallbackURL       string // X-Callback-Url on request-to-pay
	CallbackHost      string // providerCallbackHost on API-user creation

	Timeout time.Duration // per-call HTTP timeout
}

func ConfigFromEnv() Config {
	env := envOr("MOMO_TARGET_ENVIRONMENT", "sandbox")

	base := os.Getenv("MOMO_BASE_URL")
	if base == "" {
		base = sandboxBaseURL
		if env == "live" {
			base = liveBaseURL
		}
	}

	return Config{
		BaseURL:           base,
		SubscriptionKey:   os.Getenv("MOMO_SUBSCRIPTION_KEY"),
		SecondaryKey:      os.Getenv("MOMO_SECONDARY_KEY"),
		TargetEnvironment: env,
		CallbackURL:       os.Getenv("MOMO_CALLBACK_URL"),
		CallbackHost:      envOr("MOMO_CALLBACK_HOST", "pathfindersgifts.com"),
		Timeout:           30 * time.Second,
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
