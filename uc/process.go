package uc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ecociel/fetchq/adapter"
	"github.com/ecociel/fetchq/domain"
	"github.com/ecociel/fetchq/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DueTaskStore is the dispatcher's view of the task store. ClaimDueTasks
// must transition the returned tasks to running atomically so that no task
// is ever claimed by two dispatchers.
type DueTaskStore interface {
	ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]domain.Task, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkRetrying(ctx context.Context, id uuid.UUID, attempt int, reason string, notBefore time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempt int, reason string) error
	ResetStuckRunning(ctx context.Context, cutoff time.Time) (int64, error)
}

type EventPublisher interface {
	PublishSync(ctx context.Context, dedupKey string, event domain.Event) error
}

// Executor runs attempt functions; an ants pool satisfies it.
type Executor interface {
	Submit(task func()) error
}

type ProcessDueTasksUseCase = func(ctx context.Context, limit int) error
type ReclaimStuckUseCase = func(ctx context.Context, olderThan time.Duration) (int64, error)

// MakeProcessDueTasksUseCase claims a batch of eligible tasks and executes
// each against the external API on the executor, applying the retry policy
// to transient failures. The batch is awaited before returning so a tick
// never overlaps its own marks.
func MakeProcessDueTasksUseCase(
	store DueTaskStore,
	api adapter.ExternalAPI,
	publisher EventPublisher,
	exec Executor,
	policy RetryPolicy,
	m metrics.DispatcherMetrics,
	cache StatusCache,
	log zerolog.Logger,
) ProcessDueTasksUseCase {
	return func(ctx context.Context, limit int) error {
		now := time.Now()

		tasks, err := store.ClaimDueTasks(ctx, now, limit)
		if err != nil {
			return fmt.Errorf("claim due tasks: %w", err)
		}
		if len(tasks) == 0 {
			return nil
		}
		m.TasksClaimed(len(tasks))
		log.Debug().Int("claimed", len(tasks)).Msg("claimed due tasks")

		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error
		setErr := func(err error) {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}

		for _, task := range tasks {
			task := task
			wg.Add(1)
			attempt := func() {
				defer wg.Done()
				if err := executeAttempt(ctx, task, store, api, publisher, policy, m, cache, log); err != nil {
					setErr(err)
				}
			}
			if err := exec.Submit(attempt); err != nil {
				wg.Done()
				setErr(fmt.Errorf("submit attempt for %s: %w", task.ID, err))
			}
		}
		wg.Wait()

		return firstErr
	}
}

func executeAttempt(
	ctx context.Context,
	task domain.Task,
	store DueTaskStore,
	api adapter.ExternalAPI,
	publisher EventPublisher,
	policy RetryPolicy,
	m metrics.DispatcherMetrics,
	cache StatusCache,
	log zerolog.Logger,
) error {
	start := time.Now()
	result, err := api.Perform(ctx, task.Kind, task.Payload)
	m.AttemptLatency(time.Since(start))

	attempt := task.AttemptCount + 1
	task.AttemptCount = attempt
	task.UpdatedAt = time.Now()

	switch {
	case err == nil:
		if err := store.MarkSucceeded(ctx, task.ID); err != nil {
			return err
		}
		m.TaskSucceeded()
		task.Status = domain.StatusSucceeded
		task.LastError = ""
		log.Info().Stringer("task_id", task.ID).Str("kind", string(task.Kind)).Int("attempt", attempt).Msg("task succeeded")
		publish(ctx, publisher, task, result.Data, log)

	case domain.IsTransient(err) && !policy.Exhausted(attempt):
		notBefore := time.Now().Add(policy.Backoff(attempt))
		if err := store.MarkRetrying(ctx, task.ID, attempt, err.Error(), notBefore); err != nil {
			return err
		}
		m.TaskRetried()
		task.Status = domain.StatusRetrying
		task.LastError = err.Error()
		task.NotBefore = notBefore
		log.Warn().Err(err).Stringer("task_id", task.ID).Int("attempt", attempt).Time("not_before", notBefore).Msg("attempt failed, retrying")
		publish(ctx, publisher, task, nil, log)

	default:
		if err := store.MarkFailed(ctx, task.ID, attempt, err.Error()); err != nil {
			return err
		}
		m.TaskFailed()
		task.Status = domain.StatusFailed
		task.LastError = err.Error()
		log.Error().Err(err).Stringer("task_id", task.ID).Int("attempt", attempt).Msg("task failed")
		publish(ctx, publisher, task, nil, log)
	}

	putCache(ctx, cache, task, log)
	return nil
}

// publish is best effort: the store already holds the outcome, a lost event
// must not fail the attempt.
func publish(ctx context.Context, publisher EventPublisher, task domain.Task, data []byte, log zerolog.Logger) {
	event := domain.Event{
		TaskID:  task.ID,
		Kind:    task.Kind,
		Status:  task.Status,
		Attempt: task.AttemptCount,
		Reason:  task.LastError,
		Data:    data,
		At:      task.UpdatedAt,
	}
	if err := publisher.PublishSync(ctx, task.DedupKey, event); err != nil {
		log.Warn().Err(err).Stringer("task_id", task.ID).Msg("outcome event publish failed")
	}
}

// MakeReclaimStuckUseCase reverts tasks left running past the visibility
// timeout, typically after a dispatcher crash.
func MakeReclaimStuckUseCase(store DueTaskStore, m metrics.DispatcherMetrics, log zerolog.Logger) ReclaimStuckUseCase {
	return func(ctx context.Context, olderThan time.Duration) (int64, error) {
		n, err := store.ResetStuckRunning(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return 0, err
		}
		if n > 0 {
			m.TasksReclaimed(int(n))
			log.Warn().Int64("reclaimed", n).Msg("reset stuck running tasks")
		}
		return n, nil
	}
}
