package uc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ecociel/fetchq/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrInvalidPayload = errors.New("payload must be a JSON object")

type Writer interface {
	InsertTask(ctx context.Context, t *domain.Task) (domain.Task, bool, error)
}

type Reader interface {
	GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error)
}

// StatusCache shortcuts status reads; the store stays authoritative.
// A nil cache disables caching.
type StatusCache interface {
	Put(ctx context.Context, task domain.Task) error
	Get(ctx context.Context, id uuid.UUID) (domain.Task, bool, error)
}

type EnqueueUseCase = func(ctx context.Context, kind domain.Kind, payload []byte, dedupKey string, delay time.Duration) (uuid.UUID, error)
type StatusUseCase = func(ctx context.Context, id uuid.UUID) (domain.Task, error)

// MakeEnqueueUseCase persists a pending task, idempotent on dedup key:
// while a task with the same key is in flight, its id is returned and no
// new task is created.
func MakeEnqueueUseCase(w Writer, cache StatusCache, log zerolog.Logger) EnqueueUseCase {
	return func(ctx context.Context, kind domain.Kind, payload []byte, dedupKey string, delay time.Duration) (uuid.UUID, error) {
		if kind == "" {
			return uuid.Nil, errors.New("kind must not be empty")
		}
		if dedupKey == "" {
			return uuid.Nil, errors.New("dedup key must not be empty")
		}
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil {
			return uuid.Nil, ErrInvalidPayload
		}

		task := domain.Task{
			ID:        uuid.New(),
			Kind:      kind,
			Payload:   payload,
			DedupKey:  dedupKey,
			Status:    domain.StatusPending,
			NotBefore: time.Now().Add(delay),
		}

		stored, inserted, err := w.InsertTask(ctx, &task)
		if err != nil {
			return uuid.Nil, fmt.Errorf("enqueue %s: %w", kind, err)
		}
		if !inserted {
			log.Debug().Stringer("task_id", stored.ID).Str("dedup_key", dedupKey).Msg("dedup hit, returning in-flight task")
			return stored.ID, nil
		}

		putCache(ctx, cache, stored, log)
		log.Info().Stringer("task_id", stored.ID).Str("kind", string(kind)).Str("dedup_key", dedupKey).Msg("task enqueued")
		return stored.ID, nil
	}
}

// MakeStatusUseCase reads a task record, serving from the cache when it
// holds a fresh entry.
func MakeStatusUseCase(r Reader, cache StatusCache, log zerolog.Logger) StatusUseCase {
	return func(ctx context.Context, id uuid.UUID) (domain.Task, error) {
		if cache != nil {
			task, ok, err := cache.Get(ctx, id)
			if err != nil {
				log.Warn().Err(err).Stringer("task_id", id).Msg("status cache read failed")
			} else if ok {
				return task, nil
			}
		}

		task, err := r.GetTask(ctx, id)
		if err != nil {
			return domain.Task{}, err
		}
		putCache(ctx, cache, task, log)
		return task, nil
	}
}

func putCache(ctx context.Context, cache StatusCache, task domain.Task, log zerolog.Logger) {
	if cache == nil {
		return
	}
	if err := cache.Put(ctx, task); err != nil {
		log.Warn().Err(err).Stringer("task_id", task.ID).Msg("status cache write failed")
	}
}
