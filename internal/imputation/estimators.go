package imputation

import (
	"time"

	"github.com/smukkama/airquality-server/internal/database"
)

// Fallback estimators used when no trained model can serve a gap. Both
// are pure functions of the series snapshot and the target hour.

// ForwardFill returns the nearest known value before the target, or the
// nearest known value after it when the gap sits at the start of the
// series.
func ForwardFill(points []database.TimePoint, target time.Time) (float64, error) {
	before := lastKnownBefore(points, target)
	if before != nil {
		return *before.Value, nil
	}

	after := firstKnownAfter(points, target)
	if after != nil {
		return *after.Value, nil
	}

	return 0, ErrInsufficientContext
}

// LinearInterpolate estimates the target hour from the nearest known
// values on both sides, weighted by distance in time. With only one
// anchor available it degrades to nearest-known fill.
func LinearInterpolate(points []database.TimePoint, target time.Time) (float64, error) {
	before := lastKnownBefore(points, target)
	after := firstKnownAfter(points, target)

	switch {
	case before != nil && after != nil:
		span := after.Timestamp.Sub(before.Timestamp)
		if span <= 0 {
			return *before.Value, nil
		}
		frac := float64(target.Sub(before.Timestamp)) / float64(span)
		return *before.Value + frac*(*after.Value-*before.Value), nil

	case before != nil:
		return *before.Value, nil

	case after != nil:
		return *after.Value, nil

	default:
		return 0, ErrInsufficientContext
	}
}

func lastKnownBefore(points []database.TimePoint, target time.Time) *database.TimePoint {
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].Timestamp.Before(target) && points[i].Value != nil {
			return &points[i]
		}
	}
	return nil
}

func firstKnownAfter(points []database.TimePoint, target time.Time) *database.TimePoint {
	for i := range points {
		if points[i].Timestamp.After(target) && points[i].Value != nil {
			return &points[i]
		}
	}
	return nil
}
