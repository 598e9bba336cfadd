package linking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/habitflow/notifier/internal/domain"
	"github.com/habitflow/notifier/internal/i18n"
	"github.com/habitflow/notifier/pkg/metrics"
)

const defaultQueueSize = 256

// Queue buffers events between the chat transport and the workers.
type Queue chan Event

func NewQueue(size int) Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return make(Queue, size)
}

// Offer enqueues ev without blocking and reports whether it was accepted.
func (q Queue) Offer(ev Event) bool {
	select {
	case q <- ev:
		return true
	default:
		return false
	}
}

// Replier sends a text message to a chat.
type Replier interface {
	Send(ctx context.Context, chatID domain.ChatID, text string) error
}

// Catalog resolves reply texts for a language.
type Catalog interface {
	Translator(lang string) i18n.Translator
}

// Worker drains the queue through the linker and replies to every non-ignored event.
type Worker struct {
	queue   Queue
	linker  *Linker
	replier Replier
	texts   Catalog
	log     *slog.Logger
	workers int
}

func NewWorker(queue Queue, linker *Linker, replier Replier, texts Catalog, workers int, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	return &Worker{
		queue:   queue,
		linker:  linker,
		replier: replier,
		texts:   texts,
		log:     log,
		workers: workers,
	}
}

// Run blocks until ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) {
	w.log.InfoContext(ctx, "linking worker: started", slog.Int("workers", w.workers))

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()

	w.log.InfoContext(ctx, "linking worker: stopped")
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.queue:
			if !ok {
				return
			}
			w.Process(ctx, ev)
		}
	}
}

// Process handles one event. A panic in the handler is logged and the event dropped.
func (w *Worker) Process(ctx context.Context, ev Event) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.log.ErrorContext(ctx, "linking worker: handler panic",
				slog.Int("update_id", ev.UpdateID),
				slog.Any("panic", fmt.Sprint(r)),
			)
			outcome = OutcomeTemporaryError
			metrics.RecordLinkAttempt("panic")
		}
	}()

	outcome = w.linker.Handle(ctx, ev)
	metrics.RecordLinkAttempt(string(outcome))
	w.log.DebugContext(ctx, "linking worker: event handled",
		slog.Int("update_id", ev.UpdateID),
		slog.String("outcome", string(outcome)),
	)

	key := outcome.MessageKey()
	if key == "" {
		return outcome
	}

	text := w.texts.Translator(ev.Language).T(key)
	if err := w.replier.Send(ctx, ev.ChatID, text); err != nil {
		w.log.WarnContext(ctx, "linking worker: failed to reply",
			slog.Int64("chat_id", int64(ev.ChatID)),
			slog.Any("error", err),
		)
	}

	return outcome
}
