package momo

import (
	"errors"
	"fmt"
)

// ProvisionError: API-user or API-key creation failed. Credentials stay unset.
type ProvisionError struct {
	Stage      string // "apiuser" | "apikey"
	StatusCode int
	Body       string
	Err        error
}

func (e *ProvisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("momo provisioning (%s): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("momo provisioning (%s): status %d: %s", e.Stage, e.StatusCode, e.Body)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// AuthError: the token endpoint refused or returned garbage.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("momo token: %v", e.Err)
	}
	return fmt.Sprintf("momo token: status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// credentialRejected: covers 401/403 from the token endpoint, which means the
// provisioned credentials themselves are bad and must be recreated.
func (e *AuthError) credentialRejected() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// GatewayError is the uniform failure value for collection calls. Callers
// pattern-match on it instead of probing response maps for an "error" key.
type GatewayError struct {
	Op         string // "validate" | "requesttopay" | "status" | "balance"
	StatusCode int    // 0 for transport failures
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("momo %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("momo %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// transient reports whether the failure is worth a retry: transport errors and
// 5xx only. 4xx business errors fail fast.
func (e *GatewayError) transient() bool {
	return e.Err != nil || e.StatusCode >= 500
}

// OutcomeUnknown reports whether the request may have reached the gateway
// without a readable answer (timeout, connection reset). Any HTTP status is a
// definitive answer, and auth/provisioning failures happen before the
// collection call is ever sent.
func (e *GatewayError) OutcomeUnknown() bool {
	if e.StatusCode != 0 || e.Err == nil {
		return false
	}
	var ae *AuthError
	var pe *ProvisionError
	return !errors.As(e.Err, &ae) && !errors.As(e.Err, &pe)
}
