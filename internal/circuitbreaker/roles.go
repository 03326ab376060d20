package circuitbreaker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/taskpilot/orchestrator/internal/metrics"
	"github.com/taskpilot/orchestrator/internal/roles"
)

// GuardedPlanner wraps a Planner behind a breaker.
type GuardedPlanner struct {
	inner   roles.Planner
	breaker *Breaker
}

func (g GuardedPlanner) Invoke(ctx context.Context, in roles.PlanInput) (*roles.PlanOutput, error) {
	var out *roles.PlanOutput
	err := g.breaker.Execute(ctx, func() error {
		var err error
		out, err = g.inner.Invoke(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GuardedActor wraps an Actor behind a breaker.
type GuardedActor struct {
	inner   roles.Actor
	breaker *Breaker
}

func (g GuardedActor) Invoke(ctx context.Context, in roles.ActInput) (*roles.ActOutput, error) {
	var out *roles.ActOutput
	err := g.breaker.Execute(ctx, func() error {
		var err error
		out, err = g.inner.Invoke(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GuardedValidator wraps a Validator behind a breaker.
type GuardedValidator struct {
	inner   roles.Validator
	breaker *Breaker
}

func (g GuardedValidator) Invoke(ctx context.Context, in roles.ValidateInput) (*roles.ValidateOutput, error) {
	var out *roles.ValidateOutput
	err := g.breaker.Execute(ctx, func() error {
		var err error
		out, err = g.inner.Invoke(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func roleBreaker(role string, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.ShouldTrip == nil {
		// Fatal role errors are definitive answers from the service and a
		// cancelled run says nothing about its health; neither trips.
		cfg.ShouldTrip = func(err error) bool {
			return !roles.IsFatal(err) && !errors.Is(err, context.Canceled)
		}
	}
	base := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		if base != nil {
			base(name, from, to)
		}
	}
	return New(role, cfg, logger)
}

// WrapRoles guards the three role collaborators with independent breakers so
// a failing endpoint for one role cannot starve the others.
func WrapRoles(p roles.Planner, a roles.Actor, v roles.Validator, cfg Config, logger *zap.Logger) (roles.Planner, roles.Actor, roles.Validator) {
	return GuardedPlanner{inner: p, breaker: roleBreaker("planning", cfg, logger)},
		GuardedActor{inner: a, breaker: roleBreaker("acting", cfg, logger)},
		GuardedValidator{inner: v, breaker: roleBreaker("validation", cfg, logger)}
}
