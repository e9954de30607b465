package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/carreto/dispatch/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	driverPresenceKeyPrefix = "drivers:presence:"
	driverLocationKeyPrefix = "drivers:locations:"
)

// PresenceStore keeps the ephemeral online record of each driver. A driver
// is online only while its last heartbeat is younger than the TTL.
type PresenceStore interface {
	Heartbeat(ctx context.Context, p models.Presence) error
	Get(ctx context.Context, driverID string) (*models.Presence, error)
	Remove(ctx context.Context, driverID string) error
	ListOnline(ctx context.Context, bairroID string) ([]string, error)
}

type redisPresence struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisPresence(redisClient *redis.Client, ttl time.Duration) PresenceStore {
	return &redisPresence{redis: redisClient, ttl: ttl}
}

func (c *redisPresence) Heartbeat(ctx context.Context, p models.Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, driverPresenceKeyPrefix+p.DriverID, data, c.ttl)
	pipe.GeoAdd(ctx, driverLocationKeyPrefix+p.BairroID, &redis.GeoLocation{
		Name:      p.DriverID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (c *redisPresence) Get(ctx context.Context, driverID string) (*models.Presence, error) {
	data, err := c.redis.Get(ctx, driverPresenceKeyPrefix+driverID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p models.Presence
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *redisPresence) Remove(ctx context.Context, driverID string) error {
	p, err := c.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if p != nil {
		if err := c.redis.ZRem(ctx, driverLocationKeyPrefix+p.BairroID, driverID).Err(); err != nil {
			return err
		}
	}
	return c.redis.Del(ctx, driverPresenceKeyPrefix+driverID).Err()
}

// ListOnline returns the drivers in a bairro with a live presence key and
// prunes members whose key has expired.
func (c *redisPresence) ListOnline(ctx context.Context, bairroID string) ([]string, error) {
	geoKey := driverLocationKeyPrefix + bairroID
	members, err := c.redis.ZRange(ctx, geoKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = driverPresenceKeyPrefix + m
	}
	alive, err := c.redis.Exists(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	if int(alive) == len(members) {
		return members, nil
	}

	online := make([]string, 0, alive)
	for _, m := range members {
		n, err := c.redis.Exists(ctx, driverPresenceKeyPrefix+m).Result()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			online = append(online, m)
			continue
		}
		c.redis.ZRem(ctx, geoKey, m)
	}
	return online, nil
}
