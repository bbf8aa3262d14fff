// Package admin owns the mutable service configuration: the backend signer,
// the platform fee wallet, and the pause switch. All three are owner-gated,
// persisted to Redis so rotation survives restarts, and cached under a
// RWMutex for the ledger's hot path.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiao99xiao/bookme-sub008/internal/audit"
)

// ErrNotOwner is returned when a caller other than the configured owner
// attempts an administrative mutation.
var ErrNotOwner = errors.New("caller is not the owner")

const (
	signerKey    = "escrow:admin:signer"
	feeWalletKey = "escrow:admin:fee_wallet"
	pausedKey    = "escrow:admin:paused"
)

// Control is the single writer of administrative state.
type Control struct {
	rdb    *redis.Client
	owner  common.Address
	events *audit.Recorder
	log    *zap.Logger

	mu        sync.RWMutex
	signer    common.Address
	feeWallet common.Address
	paused    bool
}

// NewControl loads persisted state, falling back to the configured initial
// signer and fee wallet when nothing has been rotated yet.
func NewControl(
	ctx context.Context,
	rdb *redis.Client,
	owner, initialSigner, initialFeeWallet common.Address,
	events *audit.Recorder,
	log *zap.Logger,
) (*Control, error) {
	c := &Control{
		rdb:       rdb,
		owner:     owner,
		events:    events,
		log:       log,
		signer:    initialSigner,
		feeWallet: initialFeeWallet,
	}

	if v, err := rdb.Get(ctx, signerKey).Result(); err == nil && v != "" {
		c.signer = common.HexToAddress(v)
	} else if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load signer: %w", err)
	}
	if v, err := rdb.Get(ctx, feeWalletKey).Result(); err == nil && v != "" {
		c.feeWallet = common.HexToAddress(v)
	} else if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load fee wallet: %w", err)
	}
	if v, err := rdb.Get(ctx, pausedKey).Result(); err == nil {
		c.paused = v == "1"
	} else if err != redis.Nil {
		return nil, fmt.Errorf("load paused flag: %w", err)
	}

	return c, nil
}

// Owner returns the owning identity.
func (c *Control) Owner() common.Address { return c.owner }

// Signer returns the currently trusted backend signer.
func (c *Control) Signer() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signer
}

// FeeWallet returns the current platform fee destination.
func (c *Control) FeeWallet() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feeWallet
}

// Paused reports whether fund-moving operations are suspended.
func (c *Control) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// RotateSigner replaces the trusted backend signer.
func (c *Control) RotateSigner(ctx context.Context, caller, newSigner common.Address) error {
	if caller != c.owner {
		return ErrNotOwner
	}
	if newSigner == (common.Address{}) {
		return errors.New("new signer is the zero address")
	}

	c.mu.Lock()
	if err := c.rdb.Set(ctx, signerKey, newSigner.Hex(), 0).Err(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("persist signer: %w", err)
	}
	c.signer = newSigner
	c.mu.Unlock()

	c.log.Info("backend signer rotated", zap.String("signer", newSigner.Hex()))
	c.events.Record(ctx, audit.Event{
		Type:   audit.TypeSignerRotated,
		At:     time.Now().Unix(),
		Actor:  caller.Hex(),
		Detail: newSigner.Hex(),
	})
	return nil
}

// RotateFeeWallet replaces the platform fee destination.
func (c *Control) RotateFeeWallet(ctx context.Context, caller, newWallet common.Address) error {
	if caller != c.owner {
		return ErrNotOwner
	}
	if newWallet == (common.Address{}) {
		return errors.New("new fee wallet is the zero address")
	}

	c.mu.Lock()
	if err := c.rdb.Set(ctx, feeWalletKey, newWallet.Hex(), 0).Err(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("persist fee wallet: %w", err)
	}
	c.feeWallet = newWallet
	c.mu.Unlock()

	c.log.Info("fee wallet rotated", zap.String("wallet", newWallet.Hex()))
	c.events.Record(ctx, audit.Event{
		Type:   audit.TypeFeeWalletRotated,
		At:     time.Now().Unix(),
		Actor:  caller.Hex(),
		Detail: newWallet.Hex(),
	})
	return nil
}

// Pause suspends all fund-moving ledger operations.
func (c *Control) Pause(ctx context.Context, caller common.Address) error {
	return c.setPaused(ctx, caller, true)
}

// Unpause resumes fund-moving ledger operations.
func (c *Control) Unpause(ctx context.Context, caller common.Address) error {
	return c.setPaused(ctx, caller, false)
}

func (c *Control) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	if caller != c.owner {
		return ErrNotOwner
	}

	val := "0"
	evType := audit.TypeUnpaused
	if paused {
		val = "1"
		evType = audit.TypePaused
	}

	c.mu.Lock()
	if err := c.rdb.Set(ctx, pausedKey, val, 0).Err(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("persist paused flag: %w", err)
	}
	c.paused = paused
	c.mu.Unlock()

	c.log.Info("pause switch changed", zap.Bool("paused", paused))
	c.events.Record(ctx, audit.Event{
		Type:  evType,
		At:    time.Now().Unix(),
		Actor: caller.Hex(),
	})
	return nil
}
