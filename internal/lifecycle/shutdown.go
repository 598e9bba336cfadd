// Package lifecycle coordinates process shutdown and the liveness/readiness probes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Shutdown runs registered hooks stage by stage; hooks inside one stage run in parallel.
type Shutdown struct {
	mu    sync.Mutex
	hooks []Hook
	log   *slog.Logger
	once  sync.Once
	err   error
}

func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}

	return &Shutdown{log: log}
}

// Register adds a named shutdown hook to the given stage.
func (s *Shutdown) Register(stage Stage, name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks = append(s.hooks, Hook{Name: name, Stage: stage, Fn: fn})
}

// Execute runs all hooks once. Later calls return the first result.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.once.Do(func() {
		s.err = s.execute(ctx)
	})
	return s.err
}

func (s *Shutdown) execute(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Stage < hooks[j].Stage })

	start := time.Now()
	s.log.Info("shutdown sequence started", slog.Int("hook_count", len(hooks)))

	var errs []error
	for i := 0; i < len(hooks); {
		j := i
		for j < len(hooks) && hooks[j].Stage == hooks[i].Stage {
			j++
		}
		errs = append(errs, s.runStage(ctx, hooks[i:j])...)
		i = j
	}

	s.log.Info("shutdown sequence finished", slog.Duration("elapsed", time.Since(start)))

	return errors.Join(errs...)
}

func (s *Shutdown) runStage(ctx context.Context, hooks []Hook) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, h := range hooks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			log := s.log.With(slog.String("hook", h.Name), slog.String("stage", h.Stage.String()))
			log.Info("running shutdown hook")

			if err := h.Fn(ctx); err != nil {
				log.Error("shutdown hook failed", slog.Any("error", err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
				mu.Unlock()
				return
			}

			log.Info("shutdown hook completed")
		}()
	}

	wg.Wait()
	return errs
}
