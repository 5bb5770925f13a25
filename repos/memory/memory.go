package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ecociel/fetchq/domain"
	"github.com/google/uuid"
)

// Repo is a mutex-guarded task store with the same claim and dedup
// semantics as the postgres repo. It backs tests and the standalone demo.
type Repo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func New() *Repo {
	return &Repo{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (repo *Repo) InsertTask(_ context.Context, task *domain.Task) (domain.Task, bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, existing := range repo.tasks {
		if existing.DedupKey == task.DedupKey && existing.Status.InFlight() {
			return *existing, false, nil
		}
	}

	now := time.Now()
	stored := *task
	stored.Status = domain.StatusPending
	stored.AttemptCount = 0
	stored.CreatedAt = now
	stored.UpdatedAt = now
	repo.tasks[stored.ID] = &stored
	return stored, true, nil
}

func (repo *Repo) GetTask(_ context.Context, id uuid.UUID) (domain.Task, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	task, ok := repo.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return *task, nil
}

func (repo *Repo) ClaimDueTasks(_ context.Context, now time.Time, limit int) ([]domain.Task, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var due []*domain.Task
	for _, task := range repo.tasks {
		eligible := task.Status == domain.StatusPending || task.Status == domain.StatusRetrying
		if eligible && !task.NotBefore.After(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NotBefore.Before(due[j].NotBefore) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]domain.Task, 0, len(due))
	for _, task := range due {
		task.Status = domain.StatusRunning
		task.UpdatedAt = now
		claimed = append(claimed, *task)
	}
	return claimed, nil
}

func (repo *Repo) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	return repo.mark(id, func(task *domain.Task) {
		task.Status = domain.StatusSucceeded
		task.AttemptCount++
		task.LastError = ""
	})
}

func (repo *Repo) MarkRetrying(_ context.Context, id uuid.UUID, attempt int, reason string, notBefore time.Time) error {
	return repo.mark(id, func(task *domain.Task) {
		task.Status = domain.StatusRetrying
		task.AttemptCount = attempt
		task.LastError = reason
		task.NotBefore = notBefore
	})
}

func (repo *Repo) MarkFailed(_ context.Context, id uuid.UUID, attempt int, reason string) error {
	return repo.mark(id, func(task *domain.Task) {
		task.Status = domain.StatusFailed
		task.AttemptCount = attempt
		task.LastError = reason
	})
}

func (repo *Repo) mark(id uuid.UUID, update func(*domain.Task)) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	task, ok := repo.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if task.Status != domain.StatusRunning {
		return fmt.Errorf("mark task %s: not running", id)
	}
	update(task)
	task.UpdatedAt = time.Now()
	return nil
}

func (repo *Repo) ResetStuckRunning(_ context.Context, cutoff time.Time) (int64, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var n int64
	for _, task := range repo.tasks {
		if task.Status == domain.StatusRunning && task.UpdatedAt.Before(cutoff) {
			task.Status = domain.StatusRetrying
			task.NotBefore = time.Now()
			task.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}
