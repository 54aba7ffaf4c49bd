package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"docbot/internal/adapter/retry"
	"docbot/internal/port"
)

// GuardedGenerator wraps a generator with bounded retries and a circuit
// breaker. While the breaker is open calls fail immediately with
// gobreaker.ErrOpenState.
type GuardedGenerator struct {
	next    port.Generator
	policy  retry.Policy
	breaker *gobreaker.CircuitBreaker
}

// BreakerSettings configures when the breaker opens and how long it stays open.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func NewGuardedGenerator(next port.Generator, policy retry.Policy, bs BreakerSettings, logger *zap.Logger) *GuardedGenerator {
	if bs.ConsecutiveFailures == 0 {
		bs.ConsecutiveFailures = 5
	}
	if bs.OpenTimeout <= 0 {
		bs.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        next.ModelName(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("generator circuit breaker state changed",
				zap.String("model", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &GuardedGenerator{
		next:    next,
		policy:  policy,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *GuardedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		var text string
		err := retry.Do(ctx, g.policy, func(ctx context.Context) error {
			var err error
			text, err = g.next.Generate(ctx, prompt)
			return err
		})
		return text, err
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (g *GuardedGenerator) ModelName() string {
	return g.next.ModelName()
}

// State reports the breaker state, e.g. for health checks.
func (g *GuardedGenerator) State() gobreaker.State {
	return g.breaker.State()
}
