package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const dispatchCooldownKeyPrefix = "dispatch:cooldown:"

// CooldownStore remembers rides a driver handed back, so the dispatch
// selector hides them from that driver until the cooldown ends.
type CooldownStore interface {
	Add(ctx context.Context, driverID, rideID string, until time.Time) error
	Active(ctx context.Context, driverID string, now time.Time) ([]string, error)
}

type redisCooldown struct {
	redis *redis.Client
}

func NewRedisCooldown(redisClient *redis.Client) CooldownStore {
	return &redisCooldown{redis: redisClient}
}

func (c *redisCooldown) Add(ctx context.Context, driverID, rideID string, until time.Time) error {
	key := dispatchCooldownKeyPrefix + driverID
	pipe := c.redis.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(until.Unix()), Member: rideID})
	pipe.ExpireAt(ctx, key, until)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCooldown) Active(ctx context.Context, driverID string, now time.Time) ([]string, error) {
	key := dispatchCooldownKeyPrefix + driverID
	if err := c.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Unix(), 10)).Err(); err != nil {
		return nil, err
	}
	return c.redis.ZRange(ctx, key, 0, -1).Result()
}
