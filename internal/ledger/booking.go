package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// Status is a booking's lifecycle state. Transitions are one-way:
// Paid → Completed or Paid → Cancelled; both are terminal. Disputed is
// reserved and never entered by any core operation.
type Status string

const (
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDisputed  Status = "disputed"
)

const bookingKeyPrefix = "escrow:booking:"

// Booking is the central escrow record. Amount is what was actually escrowed;
// OriginalAmount is the full service price and the basis for payout math, so
// a points discount is absorbed by the platform, never by the provider.
type Booking struct {
	ID              common.Hash
	Customer        common.Address
	Provider        common.Address
	Inviter         common.Address // zero address = no inviter
	Amount          *big.Int
	OriginalAmount  *big.Int
	PlatformFeeRate uint64
	InviterFeeRate  uint64
	Status          Status
	CreatedAt       int64
}

// HasInviter reports whether a referring party is entitled to a fee share.
func (b *Booking) HasInviter() bool {
	return b.Inviter != (common.Address{})
}

func bookingKey(id common.Hash) string {
	return bookingKeyPrefix + id.Hex()
}

// Store persists bookings as Redis hashes. The ledger is the only writer.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Put(ctx context.Context, b *Booking) error {
	return s.rdb.HSet(ctx, bookingKey(b.ID),
		"id", b.ID.Hex(),
		"customer", b.Customer.Hex(),
		"provider", b.Provider.Hex(),
		"inviter", b.Inviter.Hex(),
		"amount", b.Amount.String(),
		"original_amount", b.OriginalAmount.String(),
		"platform_fee_rate", b.PlatformFeeRate,
		"inviter_fee_rate", b.InviterFeeRate,
		"status", string(b.Status),
		"created_at", b.CreatedAt,
	).Err()
}

// Get returns nil, nil when the booking does not exist.
func (s *Store) Get(ctx context.Context, id common.Hash) (*Booking, error) {
	vals, err := s.rdb.HGetAll(ctx, bookingKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return bookingFromMap(vals)
}

// SetStatus rewrites only the status field.
func (s *Store) SetStatus(ctx context.Context, id common.Hash, st Status) error {
	return s.rdb.HSet(ctx, bookingKey(id), "status", string(st)).Err()
}

// ScanByStatus walks all bookings and returns those in the given status.
func (s *Store) ScanByStatus(ctx context.Context, st Status) ([]Booking, error) {
	var out []Booking
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, bookingKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan bookings: %w", err)
		}
		for _, key := range keys {
			vals, err := s.rdb.HGetAll(ctx, key).Result()
			if err != nil || len(vals) == 0 {
				continue
			}
			if Status(vals["status"]) != st {
				continue
			}
			b, err := bookingFromMap(vals)
			if err != nil {
				continue
			}
			out = append(out, *b)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

func bookingFromMap(m map[string]string) (*Booking, error) {
	amount, ok := new(big.Int).SetString(m["amount"], 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount %q", m["amount"])
	}
	originalAmount, ok := new(big.Int).SetString(m["original_amount"], 10)
	if !ok {
		return nil, fmt.Errorf("corrupt original_amount %q", m["original_amount"])
	}
	platformRate, err := strconv.ParseUint(m["platform_fee_rate"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt platform_fee_rate %q", m["platform_fee_rate"])
	}
	inviterRate, err := strconv.ParseUint(m["inviter_fee_rate"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt inviter_fee_rate %q", m["inviter_fee_rate"])
	}
	createdAt, err := strconv.ParseInt(m["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at %q", m["created_at"])
	}

	return &Booking{
		ID:              common.HexToHash(m["id"]),
		Customer:        common.HexToAddress(m["customer"]),
		Provider:        common.HexToAddress(m["provider"]),
		Inviter:         common.HexToAddress(m["inviter"]),
		Amount:          amount,
		OriginalAmount:  originalAmount,
		PlatformFeeRate: platformRate,
		InviterFeeRate:  inviterRate,
		Status:          Status(m["status"]),
		CreatedAt:       createdAt,
	}, nil
}
