package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdownRunsStagesInOrder(t *testing.T) {
	s := NewShutdown(testLogger())

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	s.Register(StageStores, "redis", record("redis"))
	s.Register(StageIngress, "http", record("http"))
	s.Register(StageWorkers, "reaper", record("reaper"))
	s.Register(StageIngress, "nil", nil)

	require.NoError(t, s.Execute(context.Background()))
	assert.Equal(t, []string{"http", "reaper", "redis"}, order)
}

func TestShutdownCollectsErrorsAndRunsOnce(t *testing.T) {
	s := NewShutdown(testLogger())
	boom := errors.New("boom")

	var calls atomic.Int32
	s.Register(StageIngress, "failing", func(context.Context) error {
		calls.Add(1)
		return boom
	})
	s.Register(StageIngress, "ok", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	err := s.Execute(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing")

	assert.ErrorIs(t, s.Execute(context.Background()), boom)
	assert.Equal(t, int32(2), calls.Load())
}

type fakeDeps struct{ err error }

func (f fakeDeps) Ready(context.Context) error { return f.err }

func TestProbes(t *testing.T) {
	down := errors.New("postgres down")
	p := NewProbes(fakeDeps{err: down}, testLogger())

	assert.NoError(t, p.Liveness(context.Background()))
	assert.ErrorIs(t, p.Readiness(context.Background()), down)

	ok := NewProbes(fakeDeps{}, testLogger())
	assert.NoError(t, ok.Readiness(context.Background()))

	ok.MarkDraining()
	assert.ErrorIs(t, ok.Readiness(context.Background()), ErrDraining)
	assert.NoError(t, ok.Liveness(context.Background()))
}
