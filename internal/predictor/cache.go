package predictor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedPredictor wraps a SequencePredictor and caches model versions in
// Redis. Version lookups happen on every gap decision; the cache keeps
// the hourly pipeline from hammering the model service. Fit invalidates
// the cached version for the station/parameter.
type CachedPredictor struct {
	inner SequencePredictor
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedPredictor creates a version-caching predictor decorator
func NewCachedPredictor(inner SequencePredictor, redisClient *redis.Client, ttl time.Duration) *CachedPredictor {
	return &CachedPredictor{
		inner: inner,
		redis: redisClient,
		ttl:   ttl,
	}
}

func versionKey(stationID, parameter string) string {
	return fmt.Sprintf("model_version:%s:%s", stationID, parameter)
}

// ModelVersion returns the cached version when present, otherwise asks
// the model service and caches the answer. The empty string ("no model")
// is cached too, so repeated misses stay cheap.
func (p *CachedPredictor) ModelVersion(ctx context.Context, stationID, parameter string) (string, error) {
	key := versionKey(stationID, parameter)

	cached, err := p.redis.Get(ctx, key).Result()
	if err == nil {
		return cached, nil
	}
	if err != redis.Nil {
		// Redis being down should not take the pipeline down with it
		fmt.Printf("Model version cache read failed: %v\n", err)
	}

	version, err := p.inner.ModelVersion(ctx, stationID, parameter)
	if err != nil {
		return "", err
	}

	if err := p.redis.Set(ctx, key, version, p.ttl).Err(); err != nil {
		fmt.Printf("Model version cache write failed: %v\n", err)
	}

	return version, nil
}

// Exists reports whether a trained model is available
func (p *CachedPredictor) Exists(ctx context.Context, stationID, parameter string) (bool, error) {
	version, err := p.ModelVersion(ctx, stationID, parameter)
	if err != nil {
		return false, err
	}
	return version != "", nil
}

// Fit trains a model and drops the cached version
func (p *CachedPredictor) Fit(ctx context.Context, stationID, parameter string) (*FitResult, error) {
	result, err := p.inner.Fit(ctx, stationID, parameter)

	if delErr := p.redis.Del(ctx, versionKey(stationID, parameter)).Err(); delErr != nil {
		fmt.Printf("Model version cache invalidation failed: %v\n", delErr)
	}

	return result, err
}

// Predict delegates to the wrapped predictor
func (p *CachedPredictor) Predict(ctx context.Context, modelVersion string, window []float64) (float64, error) {
	return p.inner.Predict(ctx, modelVersion, window)
}
