// Package audit is the durable event pipeline: every successful state
// transition is recorded as an immutable JSON event. The recorder pushes onto
// a Redis list; the consumer drains that list into an append-only stream,
// which is the source of truth for reconciliation and dispute resolution.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis keys
const (
	QueueKey  = "escrow:events" // list, RPush by recorder / BLPop by consumer
	StreamKey = "escrow:audit"  // stream, append-only
)

// Event types
const (
	TypeBookingCreated     = "booking_created"
	TypeServiceCompleted   = "service_completed"
	TypeBookingCancelled   = "booking_cancelled"
	TypeEmergencyCancelled = "emergency_cancelled"
	TypePayoutIncomplete   = "payout_incomplete"
	TypeEscrowOrphaned     = "escrow_orphaned"
	TypeSignerRotated      = "signer_rotated"
	TypeFeeWalletRotated   = "fee_wallet_rotated"
	TypePaused             = "paused"
	TypeUnpaused           = "unpaused"
)

// Event is one immutable audit record. Amount fields are decimal strings so
// the JSON survives any token precision.
type Event struct {
	Type  string `json:"type"`
	At    int64  `json:"at"`
	Actor string `json:"actor,omitempty"`

	BookingID string `json:"booking_id,omitempty"`
	Customer  string `json:"customer,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Inviter   string `json:"inviter,omitempty"`

	Amount          string `json:"amount,omitempty"`
	OriginalAmount  string `json:"original_amount,omitempty"`
	PlatformFeeRate uint64 `json:"platform_fee_rate,omitempty"`
	InviterFeeRate  uint64 `json:"inviter_fee_rate,omitempty"`

	CustomerAmount string `json:"customer_amount,omitempty"`
	ProviderAmount string `json:"provider_amount,omitempty"`
	PlatformAmount string `json:"platform_amount,omitempty"`
	InviterAmount  string `json:"inviter_amount,omitempty"`

	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Recorder appends events to the queue. A recording failure never fails the
// transition that produced it; it is logged and the transition stands.
type Recorder struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRecorder(rdb *redis.Client, log *zap.Logger) *Recorder {
	return &Recorder{rdb: rdb, log: log}
}

func (r *Recorder) Record(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("audit: marshal event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if err := r.rdb.RPush(ctx, QueueKey, string(raw)).Err(); err != nil {
		r.log.Error("audit: enqueue event",
			zap.String("type", ev.Type),
			zap.String("booking", ev.BookingID),
			zap.Error(err),
		)
	}
}

// ReadStream returns up to count archived events, oldest first. Used by
// operator tooling and tests.
func ReadStream(ctx context.Context, rdb *redis.Client, count int64) ([]Event, error) {
	msgs, err := rdb.XRangeN(ctx, StreamKey, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit stream: %w", err)
	}
	events := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["event"].(string)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
