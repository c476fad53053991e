// Package allocator implements the allocation optimizer: iterative bounded
// perturbation of a simplex-constrained weight vector against a pluggable
// reward function.
package allocator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/referralpay/commission_engine/internal/app/domain/allocation"
	"github.com/referralpay/commission_engine/internal/app/metrics"
	"github.com/referralpay/commission_engine/pkg/logger"
)

const (
	// DefaultDelta bounds the per-element perturbation.
	DefaultDelta = 0.01

	// DefaultRewardMultiplier scales the placeholder reward function.
	DefaultRewardMultiplier = 100.0

	// historyLimit caps the reward history buffer.
	historyLimit = 256
)

// DefaultWeights returns the stock allocation across the six slots: service
// provider, four upline tiers and the company reserve.
func DefaultWeights() allocation.WeightVector {
	return allocation.WeightVector{0.30, 0.20, 0.15, 0.10, 0.05, 0.20}
}

// StepResult is the outcome of one optimizer step.
type StepResult struct {
	Weights  allocation.WeightVector
	Reward   float64
	Accepted bool
}

// Service owns the current weight vector and advances it one perturbation at
// a time. The vector handed out by Weights is always a copy; callers never
// share mutable state with the optimizer.
type Service struct {
	mu       sync.Mutex
	weights  allocation.WeightVector
	reward   float64
	delta    float64
	rng      *rand.Rand
	rewardFn allocation.RewardFunc
	policy   allocation.AcceptancePolicy
	history  []float64
	log      *logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDelta sets the perturbation bound. Zero disables perturbation, which
// makes Step a no-op that re-scores the current vector.
func WithDelta(delta float64) Option {
	return func(s *Service) { s.delta = delta }
}

// WithSeed makes the perturbation sequence deterministic.
func WithSeed(seed int64) Option {
	return func(s *Service) { s.rng = rand.New(rand.NewSource(seed)) }
}

// WithReward replaces the placeholder reward function.
func WithReward(fn allocation.RewardFunc) Option {
	return func(s *Service) { s.rewardFn = fn }
}

// WithPolicy replaces the greedy acceptance policy.
func WithPolicy(policy allocation.AcceptancePolicy) Option {
	return func(s *Service) { s.policy = policy }
}

// New constructs an optimizer over the given initial vector. A nil vector
// starts from the stock allocation.
func New(initial allocation.WeightVector, log *logger.Logger, opts ...Option) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("allocator")
	}
	if initial == nil {
		initial = DefaultWeights()
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial weights: %w", err)
	}

	s := &Service{
		weights:  initial.Clone(),
		delta:    DefaultDelta,
		rng:      rand.New(rand.NewSource(rand.Int63())),
		rewardFn: allocation.ScaledSumReward(DefaultRewardMultiplier),
		policy:   allocation.GreedyPolicy{},
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.delta < 0 {
		return nil, fmt.Errorf("delta must be non-negative, got %v", s.delta)
	}
	s.reward = s.rewardFn(s.weights)
	return s, nil
}

// Step perturbs the current vector, projects the candidate back onto the
// simplex, scores it and accepts or rejects it. Each step is atomic: a
// cancelled context leaves the vector untouched.
func (s *Service) Step(ctx context.Context) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.perturbLocked()
	reward := s.rewardFn(candidate)

	accepted := s.policy.Accept(s.reward, reward)
	if accepted {
		s.weights = candidate
		s.reward = reward
	}

	s.history = append(s.history, s.reward)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}

	metrics.RecordOptimizerStep(s.reward, accepted)
	s.log.WithField("reward", s.reward).
		WithField("accepted", accepted).
		Debug("optimizer step")

	return StepResult{Weights: s.weights.Clone(), Reward: s.reward, Accepted: accepted}, nil
}

// Run executes Step for the given number of episodes, stopping early on
// context cancellation. Results for completed steps are always returned.
func (s *Service) Run(ctx context.Context, episodes int) ([]StepResult, error) {
	if episodes <= 0 {
		return nil, fmt.Errorf("episodes must be positive, got %d", episodes)
	}

	results := make([]StepResult, 0, episodes)
	for i := 0; i < episodes; i++ {
		result, err := s.Step(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Weights returns a snapshot of the current vector.
func (s *Service) Weights() allocation.WeightVector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights.Clone()
}

// Reward returns the reward of the currently accepted vector.
func (s *Service) Reward() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reward
}

// RewardHistory returns the recent accepted-reward trail, oldest first.
func (s *Service) RewardHistory() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.history...)
}

// perturbLocked builds the candidate vector. With a zero delta the candidate
// is an exact copy, so the degenerate step returns the same vector and the
// same reward.
func (s *Service) perturbLocked() allocation.WeightVector {
	if s.delta == 0 {
		return s.weights.Clone()
	}
	candidate := make(allocation.WeightVector, len(s.weights))
	for i, w := range s.weights {
		candidate[i] = w + (s.rng.Float64()*2-1)*s.delta
	}
	return candidate.Project()
}
