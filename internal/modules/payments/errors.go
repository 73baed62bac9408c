package payments

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount  = errors.New("amount must be greater than zero")
	ErrInvalidChannel = errors.New("unknown payment channel")
	ErrPhoneRequired  = errors.New("phone number is required for mobile money")
	ErrInvalidPhone   = errors.New("invalid phone number")
	ErrPendingExists  = errors.New("a pending donation already exists for this channel")
	ErrIntentNotFound = errors.New("payment intent not found")
	ErrNotCancellable = errors.New("donation not found or cannot be cancelled")
)

// GatewayFailure wraps a gateway-side error so handlers can map every
// upstream failure (provisioning, auth, HTTP) to one response class.
type GatewayFailure struct {
	Channel string
	Err     error
}

func (e *GatewayFailure) Error() string {
	return fmt.Sprintf("%s gateway: %v", e.Channel, e.Err)
}

func (e *GatewayFailure) Unwrap() error { return e.Err }
