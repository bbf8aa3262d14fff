package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const blpopTimeout = 5 * time.Second

// Run is the consumer loop: BLPOP the event queue and append each record to
// the audit stream. An event that fails to archive is pushed back to the
// front of the queue and retried, so the stream never silently drops a
// record.
func Run(ctx context.Context, rdb *redis.Client, log *zap.Logger) {
	log.Info("audit consumer started", zap.String("queue", QueueKey))

	for {
		if ctx.Err() != nil {
			log.Info("audit consumer stopped")
			return
		}

		results, err := rdb.BLPop(ctx, blpopTimeout, QueueKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("audit: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		// results[0] = key, results[1] = value
		raw := results[1]

		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			// Malformed entries go nowhere useful; log and drop.
			log.Error("audit: unmarshal event", zap.String("raw", raw), zap.Error(err))
			continue
		}

		err = rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: StreamKey,
			Values: map[string]interface{}{"event": raw},
		}).Err()
		if err != nil {
			log.Error("audit: append to stream", zap.String("type", ev.Type), zap.Error(err))
			_ = rdb.LPush(ctx, QueueKey, raw)
			time.Sleep(time.Second)
			continue
		}

		log.Debug("audit event archived",
			zap.String("type", ev.Type),
			zap.String("booking", ev.BookingID),
		)
	}
}
