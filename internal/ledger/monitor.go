package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunMonitor periodically sweeps Paid bookings and logs any that have been
// holding funds longer than staleAfter. Bookings have no expiry of their own,
// so without an explicit completion or cancellation escrowed funds stay
// locked indefinitely; the monitor makes that visible to operators without
// ever transitioning a booking itself.
func RunMonitor(ctx context.Context, store *Store, interval, staleAfter time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("stale escrow monitor started",
		zap.Duration("interval", interval),
		zap.Duration("stale_after", staleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("stale escrow monitor stopped")
			return
		case <-ticker.C:
			n, err := SweepStale(ctx, store, staleAfter, time.Now(), log)
			if err != nil {
				log.Error("monitor: sweep", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Warn("stale escrows holding funds", zap.Int("count", n))
			}
		}
	}
}

// SweepStale returns how many Paid bookings are older than staleAfter,
// logging each one.
func SweepStale(ctx context.Context, store *Store, staleAfter time.Duration, now time.Time, log *zap.Logger) (int, error) {
	open, err := store.ScanByStatus(ctx, StatusPaid)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-staleAfter).Unix()
	stale := 0
	for _, b := range open {
		if b.CreatedAt > cutoff {
			continue
		}
		stale++
		log.Warn("stale escrow",
			zap.String("booking", b.ID.Hex()),
			zap.String("customer", b.Customer.Hex()),
			zap.String("amount", b.Amount.String()),
			zap.Int64("created_at", b.CreatedAt),
		)
	}
	return stale, nil
}
