package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StationGuard serializes all imputation and training work for one
// station through a Redis lease. Predicting and fitting the same
// station concurrently is undefined behavior, so whichever worker holds
// the lease owns the station until it releases or the lease expires.
type StationGuard struct {
	redis *redis.Client
	ttl   time.Duration
	owner string
}

// NewStationGuard creates a guard whose leases expire after ttl. The
// TTL bounds how long a crashed worker can block a station.
func NewStationGuard(redisClient *redis.Client, ttl time.Duration, owner string) *StationGuard {
	return &StationGuard{
		redis: redisClient,
		ttl:   ttl,
		owner: owner,
	}
}

func leaseKey(stationID string) string {
	return fmt.Sprintf("station_lease:%s", stationID)
}

// TryAcquire attempts to take the station lease. Returns false when
// another worker holds it.
func (g *StationGuard) TryAcquire(ctx context.Context, stationID string) (bool, error) {
	ok, err := g.redis.SetNX(ctx, leaseKey(stationID), g.owner, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire station lease: %w", err)
	}
	return ok, nil
}

// Release gives up the station lease if this worker still holds it
func (g *StationGuard) Release(ctx context.Context, stationID string) error {
	key := leaseKey(stationID)

	holder, err := g.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read station lease: %w", err)
	}

	if holder != g.owner {
		// Lease expired and was taken over; not ours to delete
		return nil
	}

	return g.redis.Del(ctx, key).Err()
}

// Holder returns the current lease owner, or "" when the station is free
func (g *StationGuard) Holder(ctx context.Context, stationID string) (string, error) {
	holder, err := g.redis.Get(ctx, leaseKey(stationID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return holder, nil
}
