package imputation

import (
	"testing"

	"github.com/smukkama/airquality-server/internal/gaps"
)

func gapOfHours(hours int) gaps.Gap {
	d := gaps.NewDetector(3, 24)
	return gaps.Gap{
		DurationHours:  hours,
		Classification: d.Classify(hours),
	}
}

func TestPolicy_PredictorHandlesAllImputableGaps(t *testing.T) {
	p := NewPolicy(3, 24, 24)

	for _, hours := range []int{1, 3, 4, 24} {
		decision := p.Decide(gapOfHours(hours), true)
		if decision.Skip {
			t.Errorf("Gap of %dh should not be skipped with predictor available", hours)
		}
		if decision.Method != MethodPredictor {
			t.Errorf("Gap of %dh: expected predictor method, got %s", hours, decision.Method)
		}
	}
}

func TestPolicy_LongGapsNeverImputed(t *testing.T) {
	p := NewPolicy(3, 24, 24)

	for _, available := range []bool{true, false} {
		decision := p.Decide(gapOfHours(25), available)
		if !decision.Skip {
			t.Errorf("25h gap should be skipped (predictor available=%v)", available)
		}
	}
}

func TestPolicy_FallbackTiering(t *testing.T) {
	p := NewPolicy(3, 24, 24)

	tests := []struct {
		hours    int
		wantSkip bool
		want     Method
	}{
		{1, false, MethodForwardFill},
		{3, false, MethodForwardFill},
		{4, false, MethodLinear},
		{24, false, MethodLinear},
		{25, true, ""},
	}

	for _, tt := range tests {
		decision := p.Decide(gapOfHours(tt.hours), false)
		if decision.Skip != tt.wantSkip {
			t.Errorf("Gap of %dh: skip=%v, want %v", tt.hours, decision.Skip, tt.wantSkip)
		}
		if !tt.wantSkip && decision.Method != tt.want {
			t.Errorf("Gap of %dh: method=%s, want %s", tt.hours, decision.Method, tt.want)
		}
	}
}

func TestPolicy_CustomThresholds(t *testing.T) {
	// Tight limits: 1h forward fill, up to 6h interpolation, nothing beyond 6h
	p := NewPolicy(1, 6, 6)

	if d := p.Decide(gapOfHours(1), false); d.Method != MethodForwardFill {
		t.Errorf("1h gap: expected forward fill, got %s", d.Method)
	}
	if d := p.Decide(gapOfHours(2), false); d.Method != MethodLinear {
		t.Errorf("2h gap: expected linear, got %s", d.Method)
	}
	if d := p.Decide(gapOfHours(7), true); !d.Skip {
		t.Error("7h gap should be skipped with max 6h even with predictor")
	}
}
