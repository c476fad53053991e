package allocation

// RewardFunc scores a weight vector. Implementations must be pure functions
// of the vector.
type RewardFunc func(WeightVector) float64

// ScaledSumReward returns the placeholder reward used when no business
// objective has been configured: the element sum scaled by a fixed
// multiplier.
func ScaledSumReward(multiplier float64) RewardFunc {
	return func(w WeightVector) float64 {
		return w.Sum() * multiplier
	}
}

// AcceptancePolicy decides whether a candidate vector replaces the current
// one given their rewards.
type AcceptancePolicy interface {
	Accept(current, candidate float64) bool
}

// GreedyPolicy is hill climbing with ties broken toward exploration: a
// candidate is accepted when its reward is greater than or equal to the
// current reward.
type GreedyPolicy struct{}

func (GreedyPolicy) Accept(current, candidate float64) bool {
	return candidate >= current
}

// StrictPolicy accepts only strictly better candidates.
type StrictPolicy struct{}

func (StrictPolicy) Accept(current, candidate float64) bool {
	return candidate > current
}
