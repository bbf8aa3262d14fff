package nonce

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ErrNonceReused is returned when an authorization nonce has already been
// consumed by a previous state transition.
var ErrNonceReused = errors.New("nonce already used")

const keyPrefix = "escrow:authnonce:"

// Registry tracks consumed authorization nonces. Nonces are never recycled:
// keys are written without TTL and only removed by Release when the operation
// that consumed them is rolled back.
type Registry struct {
	rdb *redis.Client
}

func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

func key(n uint64) string {
	return keyPrefix + strconv.FormatUint(n, 10)
}

// Consume atomically checks and marks a nonce. SETNX makes the check-and-mark
// a single Redis operation, so two concurrent transitions can never both
// consume the same nonce.
func (r *Registry) Consume(ctx context.Context, n uint64) error {
	set, err := r.rdb.SetNX(ctx, key(n), 1, 0).Result()
	if err != nil {
		return fmt.Errorf("consume nonce %d: %w", n, err)
	}
	if !set {
		return ErrNonceReused
	}
	return nil
}

// IsUsed reports whether a nonce has been consumed.
func (r *Registry) IsUsed(ctx context.Context, n uint64) (bool, error) {
	c, err := r.rdb.Exists(ctx, key(n)).Result()
	if err != nil {
		return false, fmt.Errorf("check nonce %d: %w", n, err)
	}
	return c > 0, nil
}

// Release frees a consumed nonce. Only the ledger calls this, and only while
// rolling back an operation whose funding transfer failed, inside the same
// per-booking critical section that consumed it.
func (r *Registry) Release(ctx context.Context, n uint64) error {
	if err := r.rdb.Del(ctx, key(n)).Err(); err != nil {
		return fmt.Errorf("release nonce %d: %w", n, err)
	}
	return nil
}
