package imputation

import (
	"github.com/smukkama/airquality-server/internal/database"
	"github.com/smukkama/airquality-server/internal/gaps"
)

// Method identifies how a missing hour is estimated
type Method string

const (
	// MethodAuto lets the policy pick based on gap duration and
	// predictor availability
	MethodAuto        Method = "auto"
	MethodPredictor   Method = Method(database.MethodLSTM)
	MethodLinear      Method = Method(database.MethodLinear)
	MethodForwardFill Method = Method(database.MethodForwardFill)
)

// Decision is the policy outcome for one gap
type Decision struct {
	Skip   bool
	Method Method
}

// Policy decides whether and how a gap is imputed. It is pure decision
// logic; both the live orchestrator and the batch path call it so the
// fallback tiering lives in exactly one place.
type Policy struct {
	shortGapHours  int
	mediumGapHours int
	maxGapHours    int
}

// NewPolicy creates a policy with the given duration thresholds. The
// thresholds are validated at config load; short <= medium <= max holds.
func NewPolicy(shortGapHours, mediumGapHours, maxGapHours int) *Policy {
	return &Policy{
		shortGapHours:  shortGapHours,
		mediumGapHours: mediumGapHours,
		maxGapHours:    maxGapHours,
	}
}

// Decide applies the tiering rules:
// gaps beyond maxGapHours are never imputed, only flagged; a reachable
// predictor handles everything else; without one, forward fill serves
// very short gaps and linear interpolation serves medium ones.
func (p *Policy) Decide(gap gaps.Gap, predictorAvailable bool) Decision {
	if gap.DurationHours > p.maxGapHours {
		return Decision{Skip: true}
	}

	if predictorAvailable {
		return Decision{Method: MethodPredictor}
	}

	if gap.DurationHours <= p.shortGapHours {
		return Decision{Method: MethodForwardFill}
	}

	if gap.DurationHours <= p.mediumGapHours {
		return Decision{Method: MethodLinear}
	}

	return Decision{Skip: true}
}
