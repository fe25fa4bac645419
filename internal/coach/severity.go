package coach

import (
	"fmt"
	"math"

	"github.com/pawnsight/coach/internal/domain"
)

// Thresholds are the severity cutoffs in pawns, applied to the absolute
// centipawn loss. Each bound is inclusive.
type Thresholds struct {
	Best       float64 `yaml:"best"`
	Good       float64 `yaml:"good"`
	Inaccuracy float64 `yaml:"inaccuracy"`
	Mistake    float64 `yaml:"mistake"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Best:       0.05,
		Good:       0.20,
		Inaccuracy: 0.50,
		Mistake:    1.50,
	}
}

// Validate rejects threshold sets that are not strictly increasing.
func (t Thresholds) Validate() error {
	if t.Best < 0 {
		return fmt.Errorf("best threshold must be >= 0: %v", t.Best)
	}
	if !(t.Best < t.Good && t.Good < t.Inaccuracy && t.Inaccuracy < t.Mistake) {
		return fmt.Errorf("thresholds must be strictly increasing: %v %v %v %v",
			t.Best, t.Good, t.Inaccuracy, t.Mistake)
	}
	return nil
}

// Classify maps a mover-relative loss to a severity. A nil loss means the
// engine could not put a centipawn number on the move (mate on the board or
// evaluation unavailable); those classify as good rather than inventing a
// saturated loss.
func Classify(t Thresholds, lossPawns *float64) domain.Severity {
	if lossPawns == nil {
		return domain.SeverityGood
	}
	loss := math.Abs(*lossPawns)
	switch {
	case loss <= t.Best:
		return domain.SeverityBest
	case loss <= t.Good:
		return domain.SeverityGood
	case loss <= t.Inaccuracy:
		return domain.SeverityInaccuracy
	case loss <= t.Mistake:
		return domain.SeverityMistake
	default:
		return domain.SeverityBlunder
	}
}
