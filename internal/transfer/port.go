// Package transfer abstracts the mechanism that actually moves value. The
// ledger validates everything first and only then touches a Port; any Port
// failure surfaces as ErrTransferFailed and rolls the triggering operation
// back.
package transfer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrTransferFailed is the single failure kind a Port may surface. Callers
// match it with errors.Is; the wrapped detail carries the backend cause.
var ErrTransferFailed = errors.New("transfer failed")

// Port moves escrowed value. Implementations are bound to the escrow account
// identity: Transfer pays out of escrow, TransferFrom pulls a customer's
// funds into it.
type Port interface {
	// Transfer sends amount from the escrow account to a party.
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
	// TransferFrom pulls amount from payer into to (the escrow account at
	// funding time). Requires prior approval on allowance-based backends.
	TransferFrom(ctx context.Context, payer, to common.Address, amount *big.Int) error
	// BalanceOf reads a party's balance on the backing asset.
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}
