package ledger

import "errors"

// Every rejection maps to exactly one of these kinds (or to a kind owned by
// the package that produced it: authz.ErrInvalidSignature,
// nonce.ErrNonceReused, fees.ErrFeeRateExceedsLimit / ErrInvalidDistribution /
// ErrCancellationFeeExceedsLimit, transfer.ErrTransferFailed). Invalid input
// is always rejected outright, never defaulted or clamped.
var (
	ErrAuthorizationExpired = errors.New("authorization expired")
	ErrInvalidParty         = errors.New("invalid party")
	ErrInsufficientAmount   = errors.New("insufficient amount")
	ErrUnauthorizedCaller   = errors.New("unauthorized caller")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrBookingAlreadyExists = errors.New("booking already exists")
	ErrInvalidState         = errors.New("invalid booking state")
	ErrSystemPaused         = errors.New("system paused")
)
