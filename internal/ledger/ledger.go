// Package ledger is the booking escrow state machine. It holds customer funds
// between creation and completion/cancellation, applies backend-signed
// authorizations exactly once, and distributes funds deterministically.
//
// Every operation follows the same order: validate everything, commit state,
// then touch the transfer port. Per-booking mutexes plus the SETNX-backed
// nonce registry give serializable single-writer semantics per booking id and
// global serializability for the nonce space.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/xiao99xiao/bookme-sub008/internal/audit"
	"github.com/xiao99xiao/bookme-sub008/internal/authz"
	"github.com/xiao99xiao/bookme-sub008/internal/fees"
	"github.com/xiao99xiao/bookme-sub008/internal/nonce"
	"github.com/xiao99xiao/bookme-sub008/internal/transfer"
)

// AdminState is the slice of admin control the ledger reads on its hot path.
type AdminState interface {
	Signer() common.Address
	FeeWallet() common.Address
	Paused() bool
}

// Ledger applies verified authorizations to booking records and moves funds
// through the transfer port.
type Ledger struct {
	store      *Store
	nonces     *nonce.Registry
	verifier   *authz.Verifier
	funds      transfer.Port
	escrowAcct common.Address
	admin      AdminState
	events     *audit.Recorder
	log        *zap.Logger

	mu    sync.Mutex
	locks map[common.Hash]*sync.Mutex

	now func() time.Time
}

func New(
	store *Store,
	nonces *nonce.Registry,
	verifier *authz.Verifier,
	funds transfer.Port,
	escrowAcct common.Address,
	adminState AdminState,
	events *audit.Recorder,
	log *zap.Logger,
) *Ledger {
	return &Ledger{
		store:      store,
		nonces:     nonces,
		verifier:   verifier,
		funds:      funds,
		escrowAcct: escrowAcct,
		admin:      adminState,
		events:     events,
		log:        log,
		locks:      make(map[common.Hash]*sync.Mutex),
		now:        time.Now,
	}
}

// lockBooking serializes all operations on one booking id. Operations on
// distinct ids proceed in parallel.
func (l *Ledger) lockBooking(id common.Hash) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Get reads a booking. Unlike the fund-moving operations it works while
// paused.
func (l *Ledger) Get(ctx context.Context, id common.Hash) (*Booking, error) {
	b, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b == nil {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

// CreateAndFund validates a booking authorization, consumes its nonce, pulls
// the escrowed amount from the customer, and persists the booking as Paid.
// The operation is all-or-nothing: a failed funding transfer releases the
// nonce and leaves no state behind.
func (l *Ledger) CreateAndFund(ctx context.Context, a *authz.BookingAuthorization, sig []byte, caller common.Address) (*Booking, error) {
	if l.admin.Paused() {
		return nil, ErrSystemPaused
	}
	if a.Expiry <= l.now().Unix() {
		return nil, ErrAuthorizationExpired
	}
	if a.Customer == (common.Address{}) || a.Provider == (common.Address{}) {
		return nil, ErrInvalidParty
	}
	if caller != a.Customer {
		return nil, ErrUnauthorizedCaller
	}
	// Amounts must be positive and fit one uint256 slot; anything else can
	// never have been signed and would panic the typed-data encoder.
	if a.Amount == nil || a.Amount.Sign() <= 0 || a.Amount.BitLen() > 256 {
		return nil, ErrInsufficientAmount
	}
	if a.OriginalAmount == nil || a.OriginalAmount.BitLen() > 256 || a.OriginalAmount.Cmp(a.Amount) < 0 {
		return nil, ErrInsufficientAmount
	}
	if err := fees.ValidateRates(a.PlatformFeeRate, a.InviterFeeRate); err != nil {
		return nil, err
	}

	// The escrowed amount must fully fund the contractual payouts computed
	// from the original price; only the platform share may absorb a discount.
	providerAmt := fees.ProviderPayout(a.OriginalAmount, a.PlatformFeeRate, a.InviterFeeRate)
	inviterAmt := fees.InviterPayout(a.OriginalAmount, a.InviterFeeRate, a.HasInviter())
	owed := new(big.Int).Add(providerAmt, inviterAmt)
	if a.Amount.Cmp(owed) < 0 {
		return nil, ErrInsufficientAmount
	}

	if err := l.verifier.VerifyBooking(a, sig, l.admin.Signer()); err != nil {
		return nil, err
	}

	unlock := l.lockBooking(a.BookingID)
	defer unlock()

	existing, err := l.store.Get(ctx, a.BookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if existing != nil {
		return nil, ErrBookingAlreadyExists
	}

	if err := l.nonces.Consume(ctx, a.Nonce); err != nil {
		return nil, err
	}

	if err := l.funds.TransferFrom(ctx, a.Customer, l.escrowAcct, a.Amount); err != nil {
		// Nothing persisted yet; free the nonce so the caller can retry the
		// same authorization.
		if relErr := l.nonces.Release(ctx, a.Nonce); relErr != nil {
			l.log.Error("release nonce after failed funding",
				zap.Uint64("nonce", a.Nonce), zap.Error(relErr))
		}
		return nil, err
	}

	b := &Booking{
		ID:              a.BookingID,
		Customer:        a.Customer,
		Provider:        a.Provider,
		Inviter:         a.Inviter,
		Amount:          new(big.Int).Set(a.Amount),
		OriginalAmount:  new(big.Int).Set(a.OriginalAmount),
		PlatformFeeRate: a.PlatformFeeRate,
		InviterFeeRate:  a.InviterFeeRate,
		Status:          StatusPaid,
		CreatedAt:       l.now().Unix(),
	}
	if err := l.store.Put(ctx, b); err != nil {
		// Funds are in escrow but the record write failed. Do not release the
		// nonce, the transfer happened; flag the orphaned escrow so
		// reconciliation can settle it.
		l.flagOrphanedEscrow(ctx, b, caller, err)
		return nil, fmt.Errorf("persist booking: %w", err)
	}

	l.log.Info("booking created",
		zap.String("booking", b.ID.Hex()),
		zap.String("customer", b.Customer.Hex()),
		zap.String("provider", b.Provider.Hex()),
		zap.String("amount", b.Amount.String()),
	)
	l.events.Record(ctx, audit.Event{
		Type:            audit.TypeBookingCreated,
		At:              b.CreatedAt,
		Actor:           caller.Hex(),
		BookingID:       b.ID.Hex(),
		Customer:        b.Customer.Hex(),
		Provider:        b.Provider.Hex(),
		Inviter:         b.Inviter.Hex(),
		Amount:          b.Amount.String(),
		OriginalAmount:  b.OriginalAmount.String(),
		PlatformFeeRate: b.PlatformFeeRate,
		InviterFeeRate:  b.InviterFeeRate,
	})
	return b, nil
}

// Complete transitions Paid → Completed and pays out provider, platform, and
// inviter. Either the customer self-confirms or the backend signer completes
// on the customer's behalf.
func (l *Ledger) Complete(ctx context.Context, id common.Hash, caller common.Address) error {
	if l.admin.Paused() {
		return ErrSystemPaused
	}

	unlock := l.lockBooking(id)
	defer unlock()

	b, err := l.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load booking: %w", err)
	}
	if b == nil {
		return ErrBookingNotFound
	}
	if caller != b.Customer && caller != l.admin.Signer() {
		return ErrUnauthorizedCaller
	}
	if b.Status != StatusPaid {
		return ErrInvalidState
	}

	providerAmt := fees.ProviderPayout(b.OriginalAmount, b.PlatformFeeRate, b.InviterFeeRate)
	inviterAmt := fees.InviterPayout(b.OriginalAmount, b.InviterFeeRate, b.HasInviter())
	platformAmt := fees.PlatformPayout(b.Amount, providerAmt, inviterAmt)

	if err := l.store.SetStatus(ctx, id, StatusCompleted); err != nil {
		return fmt.Errorf("commit status: %w", err)
	}

	legs := []payoutLeg{
		{"provider", b.Provider, providerAmt},
		{"platform", l.admin.FeeWallet(), platformAmt},
		{"inviter", b.Inviter, inviterAmt},
	}
	if err := l.payOut(ctx, b, StatusPaid, legs, nil); err != nil {
		return err
	}

	l.log.Info("service completed",
		zap.String("booking", id.Hex()),
		zap.String("provider_amount", providerAmt.String()),
		zap.String("platform_amount", platformAmt.String()),
		zap.String("inviter_amount", inviterAmt.String()),
	)
	l.events.Record(ctx, audit.Event{
		Type:           audit.TypeServiceCompleted,
		At:             l.now().Unix(),
		Actor:          caller.Hex(),
		BookingID:      id.Hex(),
		Customer:       b.Customer.Hex(),
		Provider:       b.Provider.Hex(),
		Inviter:        b.Inviter.Hex(),
		Amount:         b.Amount.String(),
		ProviderAmount: providerAmt.String(),
		PlatformAmount: platformAmt.String(),
		InviterAmount:  inviterAmt.String(),
	})
	return nil
}

// Cancel applies a backend-signed cancellation split. Both customer- and
// provider-initiated cancellations go through here; only the caller identity
// differs.
func (l *Ledger) Cancel(ctx context.Context, id common.Hash, a *authz.CancellationAuthorization, sig []byte, caller common.Address) error {
	if l.admin.Paused() {
		return ErrSystemPaused
	}
	if a.Expiry <= l.now().Unix() {
		return ErrAuthorizationExpired
	}
	if a.BookingID != id {
		return ErrInvalidParty
	}
	for _, amt := range []*big.Int{a.CustomerAmount, a.ProviderAmount, a.PlatformAmount, a.InviterAmount} {
		if amt == nil || amt.Sign() < 0 || amt.BitLen() > 256 {
			return fees.ErrInvalidDistribution
		}
	}

	if err := l.verifier.VerifyCancellation(a, sig, l.admin.Signer()); err != nil {
		return err
	}

	unlock := l.lockBooking(id)
	defer unlock()

	b, err := l.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load booking: %w", err)
	}
	if b == nil {
		return ErrBookingNotFound
	}
	if caller != b.Customer && caller != b.Provider {
		return ErrUnauthorizedCaller
	}
	if b.Status != StatusPaid {
		return ErrInvalidState
	}

	if err := fees.ValidateCancellationSplit(b.Amount, a.CustomerAmount, a.ProviderAmount, a.PlatformAmount, a.InviterAmount); err != nil {
		return err
	}
	if a.InviterAmount.Sign() > 0 && !b.HasInviter() {
		return fees.ErrInvalidDistribution
	}

	if err := l.nonces.Consume(ctx, a.Nonce); err != nil {
		return err
	}

	if err := l.store.SetStatus(ctx, id, StatusCancelled); err != nil {
		if relErr := l.nonces.Release(ctx, a.Nonce); relErr != nil {
			l.log.Error("release nonce after failed commit",
				zap.Uint64("nonce", a.Nonce), zap.Error(relErr))
		}
		return fmt.Errorf("commit status: %w", err)
	}

	legs := []payoutLeg{
		{"customer", b.Customer, a.CustomerAmount},
		{"provider", b.Provider, a.ProviderAmount},
		{"platform", l.admin.FeeWallet(), a.PlatformAmount},
		{"inviter", b.Inviter, a.InviterAmount},
	}
	if err := l.payOut(ctx, b, StatusPaid, legs, &a.Nonce); err != nil {
		return err
	}

	l.log.Info("booking cancelled",
		zap.String("booking", id.Hex()),
		zap.String("reason", a.Reason),
	)
	l.events.Record(ctx, audit.Event{
		Type:           audit.TypeBookingCancelled,
		At:             l.now().Unix(),
		Actor:          caller.Hex(),
		BookingID:      id.Hex(),
		Customer:       b.Customer.Hex(),
		Provider:       b.Provider.Hex(),
		Inviter:        b.Inviter.Hex(),
		Amount:         b.Amount.String(),
		CustomerAmount: a.CustomerAmount.String(),
		ProviderAmount: a.ProviderAmount.String(),
		PlatformAmount: a.PlatformAmount.String(),
		InviterAmount:  a.InviterAmount.String(),
		Reason:         a.Reason,
	})
	return nil
}

// EmergencyCancel is the backend signer's unilateral full refund. No
// authorization payload or nonce is required; the capability is deliberately
// unchecked beyond the signer identity and the Paid state.
func (l *Ledger) EmergencyCancel(ctx context.Context, id common.Hash, reason string, caller common.Address) error {
	if l.admin.Paused() {
		return ErrSystemPaused
	}
	if caller != l.admin.Signer() {
		return ErrUnauthorizedCaller
	}

	unlock := l.lockBooking(id)
	defer unlock()

	b, err := l.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load booking: %w", err)
	}
	if b == nil {
		return ErrBookingNotFound
	}
	if b.Status != StatusPaid {
		return ErrInvalidState
	}

	if err := l.store.SetStatus(ctx, id, StatusCancelled); err != nil {
		return fmt.Errorf("commit status: %w", err)
	}

	legs := []payoutLeg{{"customer", b.Customer, b.Amount}}
	if err := l.payOut(ctx, b, StatusPaid, legs, nil); err != nil {
		return err
	}

	l.log.Warn("emergency cancel",
		zap.String("booking", id.Hex()),
		zap.String("reason", reason),
	)
	l.events.Record(ctx, audit.Event{
		Type:           audit.TypeEmergencyCancelled,
		At:             l.now().Unix(),
		Actor:          caller.Hex(),
		BookingID:      id.Hex(),
		Customer:       b.Customer.Hex(),
		Amount:         b.Amount.String(),
		CustomerAmount: b.Amount.String(),
		Reason:         reason,
	})
	return nil
}

// flagOrphanedEscrow records that a funding transfer succeeded but the
// booking record could not be written, so the escrow account holds funds no
// record accounts for. The audit stream is the reconciliation source of
// truth, so this goes there as well as to the log.
func (l *Ledger) flagOrphanedEscrow(ctx context.Context, b *Booking, caller common.Address, cause error) {
	l.log.Error("persist booking after funding",
		zap.String("booking", b.ID.Hex()),
		zap.String("customer", b.Customer.Hex()),
		zap.String("amount", b.Amount.String()),
		zap.Error(cause),
	)
	l.events.Record(ctx, audit.Event{
		Type:      audit.TypeEscrowOrphaned,
		At:        l.now().Unix(),
		Actor:     caller.Hex(),
		BookingID: b.ID.Hex(),
		Customer:  b.Customer.Hex(),
		Amount:    b.Amount.String(),
		Detail:    fmt.Sprintf("funds escrowed but booking record write failed: %v", cause),
	})
}

type payoutLeg struct {
	name   string
	to     common.Address
	amount *big.Int
}

// payOut executes the nonzero legs of a distribution out of escrow.
//
// If the first leg fails, nothing has moved: status is rolled back to
// prevStatus (and the nonce released, when one was consumed), so the booking
// is exactly as before and the caller may retry. If a later leg fails, funds
// have already partially moved and cannot be clawed back; the terminal status
// stands and a payout_incomplete event records the unpaid legs for
// reconciliation. Either way the caller gets ErrTransferFailed — a failed
// transfer is never reported as success.
func (l *Ledger) payOut(ctx context.Context, b *Booking, prevStatus Status, legs []payoutLeg, rollbackNonce *uint64) error {
	paid := 0
	for i, leg := range legs {
		if leg.amount.Sign() == 0 {
			continue
		}
		if err := l.funds.Transfer(ctx, leg.to, leg.amount); err != nil {
			if paid == 0 {
				if stErr := l.store.SetStatus(ctx, b.ID, prevStatus); stErr != nil {
					l.log.Error("rollback status after failed payout",
						zap.String("booking", b.ID.Hex()), zap.Error(stErr))
				}
				if rollbackNonce != nil {
					if relErr := l.nonces.Release(ctx, *rollbackNonce); relErr != nil {
						l.log.Error("release nonce after failed payout",
							zap.Uint64("nonce", *rollbackNonce), zap.Error(relErr))
					}
				}
				return err
			}

			// Funds partially moved; the terminal status stands. Record
			// every unpaid leg so reconciliation can settle the remainder.
			detail := ""
			for _, rest := range legs[i:] {
				if rest.amount.Sign() == 0 {
					continue
				}
				if detail != "" {
					detail += "; "
				}
				detail += fmt.Sprintf("leg %s to %s amount %s unpaid", rest.name, rest.to.Hex(), rest.amount.String())
			}
			l.log.Error("payout incomplete",
				zap.String("booking", b.ID.Hex()),
				zap.String("failed_leg", leg.name),
				zap.String("detail", detail),
				zap.Error(err),
			)
			l.events.Record(ctx, audit.Event{
				Type:      audit.TypePayoutIncomplete,
				At:        l.now().Unix(),
				BookingID: b.ID.Hex(),
				Detail:    detail,
			})
			return err
		}
		paid++
	}
	return nil
}
