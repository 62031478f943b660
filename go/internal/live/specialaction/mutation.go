package specialaction

import (
	"math"

	"github.com/mcdev12/outpost/go/internal/models"
)

// Method is how a mutation combines with the current value.
type Method string

const (
	MethodAdd      Method = "add"
	MethodSubtract Method = "subtract"
	MethodSet      Method = "set"
)

func (m Method) valid() bool {
	return m == MethodAdd || m == MethodSubtract || m == MethodSet
}

// AmountType says whether Amount is absolute or a percentage of the current value.
type AmountType string

const (
	AmountFixed      AmountType = "fixed"
	AmountPercentage AmountType = "percentage"
)

func (a AmountType) valid() bool { return a == AmountFixed || a == AmountPercentage }

// Mutation changes one resource counter of every selected participant.
type Mutation struct {
	Unit       models.Unit `json:"unit"`
	Method     Method      `json:"method"`
	AmountType AmountType  `json:"amount_type"`
	Amount     int64       `json:"amount"`
}

// Apply returns the new value for current. The result is never negative
// and saturates at math.MaxInt64. Set ignores current; percentages are
// rounded half away from zero.
func (m Mutation) Apply(current int64) int64 {
	if m.Method == MethodSet {
		return max(0, m.Amount)
	}

	delta := m.Amount
	if m.AmountType == AmountPercentage {
		f := math.Abs(math.Round(float64(current) * float64(m.Amount) / 100))
		if f >= math.MaxInt64 {
			delta = math.MaxInt64
		} else {
			delta = int64(f)
		}
	}
	if delta < 0 {
		delta = -delta
	}

	if m.Method == MethodSubtract {
		return max(0, current-delta)
	}
	if delta > math.MaxInt64-current {
		return math.MaxInt64
	}
	return current + delta
}
