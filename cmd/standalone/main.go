package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/ecociel/fetchq/adapter"
	"github.com/ecociel/fetchq/domain"
	"github.com/ecociel/fetchq/metrics"
	"github.com/ecociel/fetchq/repos/memory"
	"github.com/ecociel/fetchq/runner"
	"github.com/ecociel/fetchq/uc"
)

// Standalone demo: in-memory store, a flaky stub upstream and a log-only
// event publisher. No postgres, kafka or redis required.

const items = 10

type logPublisher struct {
	log zerolog.Logger
}

func (p *logPublisher) PublishSync(_ context.Context, dedupKey string, event domain.Event) error {
	p.log.Info().
		Str("dedup_key", dedupKey).
		Stringer("task_id", event.TaskID).
		Str("status", string(event.Status)).
		Int("attempt", event.Attempt).
		Str("reason", event.Reason).
		Msg("outcome event")
	return nil
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store := memory.New()

	mux := adapter.NewMux()
	mux.Register(domain.KindFetchTransactions, MakeFlakyUpstream())

	workers, err := ants.NewPool(4)
	if err != nil {
		log.Fatal().Err(err).Msg("create worker pool")
	}
	defer workers.Release()

	policy := uc.RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

	enqueue := uc.MakeEnqueueUseCase(store, nil, log)
	process := uc.MakeProcessDueTasksUseCase(store, mux, &logPublisher{log: log}, workers, policy, metrics.Nop{}, nil, log)
	reclaim := uc.MakeReclaimStuckUseCase(store, metrics.Nop{}, log)

	go func() {
		for seq := 0; seq < items; seq++ {
			payload := []byte(fmt.Sprintf(`{"item_id":"item-%d"}`, seq))
			dedupKey := fmt.Sprintf("transactions:item-%d", seq)
			id, err := enqueue(ctx, domain.KindFetchTransactions, payload, dedupKey, 0)
			if err != nil {
				log.Fatal().Err(err).Msg("enqueue")
			}
			log.Info().Stringer("task_id", id).Str("dedup_key", dedupKey).Msg("enqueued")

			// A duplicate while the first is in flight must be a no-op.
			again, err := enqueue(ctx, domain.KindFetchTransactions, payload, dedupKey, 0)
			if err != nil {
				log.Fatal().Err(err).Msg("re-enqueue")
			}
			if again != id {
				// The first task can finish between the two calls; a fresh
				// id then is correct, not a dedup violation.
				log.Warn().Stringer("task_id", again).Msg("dedup key was already terminal, new task created")
			}

			time.Sleep(200 * time.Millisecond)
		}
	}()

	runner.New(process, reclaim, 16, 250*time.Millisecond, time.Minute, log).Run(ctx)
}

// MakeFlakyUpstream fails transiently on every other call.
func MakeFlakyUpstream() adapter.Func {
	var calls atomic.Int64
	return func(_ context.Context, kind domain.Kind, payload []byte) (adapter.Result, error) {
		if calls.Add(1)%2 == 0 {
			return adapter.Result{}, domain.TransientError("upstream_error", fmt.Errorf("simulated failure"))
		}
		return adapter.Result{Data: []byte(fmt.Sprintf(`{"fetched":%q}`, kind))}, nil
	}
}
