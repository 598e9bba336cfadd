package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrDraining is reported by Readiness once shutdown has begun.
var ErrDraining = errors.New("service is shutting down")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Dependencies is satisfied by health.Checker.
type Dependencies interface {
	Ready(ctx context.Context) error
}

// Probes answers liveness unconditionally and readiness from the dependency checks.
type Probes struct {
	log      *slog.Logger
	deps     Dependencies
	draining atomic.Bool
}

func NewProbes(deps Dependencies, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{log: log, deps: deps}
}

// MarkDraining flips readiness to failing so load balancers stop routing here.
func (p *Probes) MarkDraining() {
	if p.draining.CompareAndSwap(false, true) {
		p.log.Info("readiness switched to draining")
	}
}

func (p *Probes) Liveness(context.Context) error {
	return nil
}

func (p *Probes) Readiness(ctx context.Context) error {
	if p.draining.Load() {
		return ErrDraining
	}
	if p.deps == nil {
		return nil
	}
	return p.deps.Ready(ctx)
}
