package gaps

import (
	"time"

	"github.com/smukkama/airquality-server/internal/database"
)

// Classification buckets gaps by duration
type Classification string

const (
	ClassShort  Classification = "short"
	ClassMedium Classification = "medium"
	ClassLong   Classification = "long"
)

// Gap is a maximal contiguous run of missing hours for one
// station/parameter. Gaps are recomputed on every run and never stored.
type Gap struct {
	StationID      string
	Parameter      string
	Start          time.Time
	End            time.Time
	DurationHours  int
	Classification Classification
}

// Detector finds missing-value gaps in a materialized hourly series
type Detector struct {
	shortGapHours int
	maxGapHours   int
}

// NewDetector creates a detector with the given classification bounds.
// Gaps of at most shortGapHours are short, gaps of at most maxGapHours
// are medium, anything longer is long.
func NewDetector(shortGapHours, maxGapHours int) *Detector {
	return &Detector{
		shortGapHours: shortGapHours,
		maxGapHours:   maxGapHours,
	}
}

// Detect scans an hourly series ordered by timestamp and returns every
// maximal gap in order. The series must contain one row per hour; the
// ingestion index guarantees that for any range it has covered.
func (d *Detector) Detect(points []database.TimePoint) []Gap {
	var gaps []Gap
	var open *Gap

	for _, p := range points {
		if p.Value == nil {
			if open == nil {
				open = &Gap{
					StationID: p.StationID,
					Parameter: p.Parameter,
					Start:     p.Timestamp,
				}
			}
			open.End = p.Timestamp
			continue
		}

		if open != nil {
			gaps = append(gaps, d.finalize(*open))
			open = nil
		}
	}

	if open != nil {
		gaps = append(gaps, d.finalize(*open))
	}

	return gaps
}

func (d *Detector) finalize(g Gap) Gap {
	g.DurationHours = int(g.End.Sub(g.Start)/time.Hour) + 1
	g.Classification = d.Classify(g.DurationHours)
	return g
}

// Classify maps a gap duration in hours to its classification
func (d *Detector) Classify(durationHours int) Classification {
	switch {
	case durationHours <= d.shortGapHours:
		return ClassShort
	case durationHours <= d.maxGapHours:
		return ClassMedium
	default:
		return ClassLong
	}
}
