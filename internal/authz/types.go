package authz

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BookingAuthorization is the backend-signed payload permitting a customer to
// create and fund a booking. It is presented once and consumed exactly once;
// nothing here is persisted beyond the resulting booking record.
type BookingAuthorization struct {
	BookingID       common.Hash    `json:"booking_id"`
	Customer        common.Address `json:"customer"`
	Provider        common.Address `json:"provider"`
	Inviter         common.Address `json:"inviter"` // zero address = no inviter
	Amount          *big.Int       `json:"amount"`
	OriginalAmount  *big.Int       `json:"original_amount"`
	PlatformFeeRate uint64         `json:"platform_fee_rate"` // basis points
	InviterFeeRate  uint64         `json:"inviter_fee_rate"`  // basis points
	Expiry          int64          `json:"expiry"`            // unix seconds
	Nonce           uint64         `json:"nonce"`
}

// HasInviter reports whether the authorization names a referring party.
func (a *BookingAuthorization) HasInviter() bool {
	return a.Inviter != (common.Address{})
}

// CancellationAuthorization is the backend-signed payload fixing the exact
// four-way split of an escrowed amount on cancellation.
type CancellationAuthorization struct {
	BookingID      common.Hash `json:"booking_id"`
	CustomerAmount *big.Int    `json:"customer_amount"`
	ProviderAmount *big.Int    `json:"provider_amount"`
	PlatformAmount *big.Int    `json:"platform_amount"`
	InviterAmount  *big.Int    `json:"inviter_amount"`
	Reason         string      `json:"reason"`
	Expiry         int64       `json:"expiry"`
	Nonce          uint64      `json:"nonce"`
}
