package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecociel/fetchq/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the authoritative task store. The partial unique index on
// dedup_key guarantees at most one in-flight task per logical unit of work.
type Repo struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Migrate bootstraps the task table and its dedup index.
func (repo *Repo) Migrate(ctx context.Context) error {
	const q = `
    CREATE TABLE IF NOT EXISTS task (
      id            UUID PRIMARY KEY,
      kind          TEXT NOT NULL,
      payload       JSONB NOT NULL DEFAULT '{}',
      dedup_key     TEXT NOT NULL,
      status        TEXT NOT NULL DEFAULT 'pending',
      attempt_count INT NOT NULL DEFAULT 0,
      not_before    TIMESTAMPTZ NOT NULL DEFAULT now(),
      created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
      updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
      last_error    TEXT NOT NULL DEFAULT ''
    );
    CREATE UNIQUE INDEX IF NOT EXISTS task_dedup_in_flight
      ON task (dedup_key)
      WHERE status IN ('pending', 'running', 'retrying');
    CREATE INDEX IF NOT EXISTS task_due
      ON task (not_before)
      WHERE status IN ('pending', 'retrying');
    `
	if _, err := repo.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("migrate task table: %w", err)
	}
	return nil
}

// InsertTask persists a new pending task. When another task with the same
// dedup key is still in flight, the stored task is returned instead and
// inserted is false.
func (repo *Repo) InsertTask(ctx context.Context, task *domain.Task) (domain.Task, bool, error) {
	const insert = `
    INSERT INTO task
      (id, kind, payload, dedup_key, status, attempt_count, not_before, created_at, updated_at)
    VALUES
      ($1, $2, $3, $4, 'pending', 0, $5, now(), now())
    ON CONFLICT (dedup_key) WHERE status IN ('pending', 'running', 'retrying') DO NOTHING
    RETURNING created_at, updated_at
    `
	const inFlight = `
    SELECT id, kind, payload, dedup_key, status, attempt_count, not_before, created_at, updated_at, last_error
    FROM task
    WHERE dedup_key = $1 AND status IN ('pending', 'running', 'retrying')
    `

	// The conflicting task can reach a terminal status between the failed
	// insert and the lookup, so take another round when it vanishes.
	for attempt := 0; attempt < 3; attempt++ {
		stored := *task
		stored.Status = domain.StatusPending
		stored.AttemptCount = 0
		err := repo.pool.QueryRow(ctx, insert,
			task.ID, task.Kind, task.Payload, task.DedupKey, task.NotBefore,
		).Scan(&stored.CreatedAt, &stored.UpdatedAt)
		if err == nil {
			return stored, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, false, fmt.Errorf("insert task: %w", err)
		}

		existing, err := scanTask(repo.pool.QueryRow(ctx, inFlight, task.DedupKey))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, false, fmt.Errorf("lookup in-flight task: %w", err)
		}
	}
	return domain.Task{}, false, fmt.Errorf("insert task %q: dedup key contended", task.DedupKey)
}

func (repo *Repo) GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	const q = `
    SELECT id, kind, payload, dedup_key, status, attempt_count, not_before, created_at, updated_at, last_error
    FROM task
    WHERE id = $1
    `
	task, err := scanTask(repo.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// ClaimDueTasks atomically moves up to limit eligible tasks to running and
// returns them. SKIP LOCKED keeps concurrent dispatchers from claiming the
// same rows.
func (repo *Repo) ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]domain.Task, error) {
	const q = `
    WITH due AS (
      SELECT id FROM task
      WHERE status IN ('pending', 'retrying') AND not_before <= $1
      ORDER BY not_before
      LIMIT $2
      FOR UPDATE SKIP LOCKED
    )
    UPDATE task t
    SET status = 'running', updated_at = now()
    FROM due
    WHERE t.id = due.id
    RETURNING t.id, t.kind, t.payload, t.dedup_key, t.status, t.attempt_count, t.not_before, t.created_at, t.updated_at, t.last_error
    `
	rows, err := repo.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query claim due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows claim due tasks: %w", err)
	}
	return tasks, nil
}

func (repo *Repo) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	const q = `
    UPDATE task
    SET status = 'succeeded', attempt_count = attempt_count + 1, last_error = '', updated_at = now()
    WHERE id = $1 AND status = 'running'
    `
	return repo.mark(ctx, q, id)
}

func (repo *Repo) MarkRetrying(ctx context.Context, id uuid.UUID, attempt int, reason string, notBefore time.Time) error {
	const q = `
    UPDATE task
    SET status = 'retrying', attempt_count = $2, last_error = $3, not_before = $4, updated_at = now()
    WHERE id = $1 AND status = 'running'
    `
	return repo.mark(ctx, q, id, attempt, reason, notBefore)
}

func (repo *Repo) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, reason string) error {
	const q = `
    UPDATE task
    SET status = 'failed', attempt_count = $2, last_error = $3, updated_at = now()
    WHERE id = $1 AND status = 'running'
    `
	return repo.mark(ctx, q, id, attempt, reason)
}

func (repo *Repo) mark(ctx context.Context, q string, id uuid.UUID, args ...any) error {
	tag, err := repo.pool.Exec(ctx, q, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("mark task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark task %s: not running", id)
	}
	return nil
}

// ResetStuckRunning reverts tasks abandoned mid-run (a crashed dispatcher)
// back to retrying so they become eligible again.
func (repo *Repo) ResetStuckRunning(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
    UPDATE task
    SET status = 'retrying', not_before = now(), updated_at = now()
    WHERE status = 'running' AND updated_at < $1
    `
	tag, err := repo.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stuck running tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var task domain.Task
	err := row.Scan(
		&task.ID, &task.Kind, &task.Payload, &task.DedupKey, &task.Status,
		&task.AttemptCount, &task.NotBefore, &task.CreatedAt, &task.UpdatedAt, &task.LastError,
	)
	return task, err
}
