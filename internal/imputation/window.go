package imputation

import (
	"time"

	"github.com/smukkama/airquality-server/internal/database"
)

// Window is the ordered recent history fed to the sequence predictor
type Window struct {
	Values []float64
	Start  time.Time
	End    time.Time
}

// WindowBuilder assembles prediction context windows
type WindowBuilder struct {
	sequenceLength int
	maxContextGap  time.Duration
}

// NewWindowBuilder creates a builder requiring sequenceLength valid
// readings with no two adjacent readings further apart than
// maxContextGapHours.
func NewWindowBuilder(sequenceLength, maxContextGapHours int) *WindowBuilder {
	return &WindowBuilder{
		sequenceLength: sequenceLength,
		maxContextGap:  time.Duration(maxContextGapHours) * time.Hour,
	}
}

// SequenceLength returns the number of readings a window carries
func (b *WindowBuilder) SequenceLength() int {
	return b.sequenceLength
}

// Build assembles a window from valid readings ordered by timestamp
// ascending, all strictly before the prediction target. It fails with
// ErrInsufficientContext when fewer than sequenceLength readings exist
// or when the window spans an internal hole larger than the allowed
// context gap; such a window is not a faithful recent history.
func (b *WindowBuilder) Build(points []database.TimePoint, target time.Time) (*Window, error) {
	var recent []database.TimePoint
	for _, p := range points {
		if p.Value != nil && p.Timestamp.Before(target) {
			recent = append(recent, p)
		}
	}

	if len(recent) < b.sequenceLength {
		return nil, ErrInsufficientContext
	}

	recent = recent[len(recent)-b.sequenceLength:]

	values := make([]float64, len(recent))
	for i, p := range recent {
		if i > 0 && p.Timestamp.Sub(recent[i-1].Timestamp) > b.maxContextGap {
			return nil, ErrInsufficientContext
		}
		values[i] = *p.Value
	}

	return &Window{
		Values: values,
		Start:  recent[0].Timestamp,
		End:    recent[len(recent)-1].Timestamp,
	}, nil
}
