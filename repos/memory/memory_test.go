package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ecociel/fetchq/domain"
	"github.com/google/uuid"
)

func pendingTask(dedupKey string) *domain.Task {
	return &domain.Task{
		ID:       uuid.New(),
		Kind:     domain.KindFetchTransactions,
		Payload:  []byte(`{}`),
		DedupKey: dedupKey,
	}
}

func TestInsertTask_DedupWhileInFlight(t *testing.T) {
	repo := New()
	ctx := context.Background()

	first := pendingTask("tx:a")
	stored, inserted, err := repo.InsertTask(ctx, first)
	if err != nil || !inserted {
		t.Fatalf("expected insert, got inserted=%v err=%v", inserted, err)
	}

	dup := pendingTask("tx:a")
	existing, inserted, err := repo.InsertTask(ctx, dup)
	if err != nil {
		t.Fatalf("dup insert: %v", err)
	}
	if inserted {
		t.Fatal("expected dedup no-op for in-flight key")
	}
	if existing.ID != stored.ID {
		t.Errorf("expected existing task %s, got %s", stored.ID, existing.ID)
	}
}

func TestInsertTask_TerminalReleasesDedupKey(t *testing.T) {
	repo := New()
	ctx := context.Background()

	first := pendingTask("tx:b")
	if _, _, err := repo.InsertTask(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.ClaimDueTasks(ctx, time.Now(), 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.MarkFailed(ctx, first.ID, 1, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	second := pendingTask("tx:b")
	_, inserted, err := repo.InsertTask(ctx, second)
	if err != nil {
		t.Fatalf("insert after terminal: %v", err)
	}
	if !inserted {
		t.Error("expected insert after terminal status released the key")
	}
}

func TestClaimDueTasks_NeverClaimsTwice(t *testing.T) {
	repo := New()
	ctx := context.Background()

	task := pendingTask("tx:c")
	if _, _, err := repo.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := repo.ClaimDueTasks(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(first) != 1 || first[0].Status != domain.StatusRunning {
		t.Fatalf("expected one running task, got %+v", first)
	}

	second, err := repo.ClaimDueTasks(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected running task to be unclaimable, got %d", len(second))
	}
}

func TestClaimDueTasks_ConcurrentClaimersDoNotOverlap(t *testing.T) {
	repo := New()
	ctx := context.Background()

	const n = 50
	for i := 0; i < n; i++ {
		if _, _, err := repo.InsertTask(ctx, pendingTask(uuid.NewString())); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)

	var wg sync.WaitGroup
	for d := 0; d < 4; d++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimedTasks, err := repo.ClaimDueTasks(ctx, time.Now(), 7)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(claimedTasks) == 0 {
					return
				}
				mu.Lock()
				for _, task := range claimedTasks {
					seen[task.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("expected %d distinct claimed tasks, got %d", n, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("task %s claimed %d times", id, count)
		}
	}
}

func TestClaimDueTasks_RespectsNotBeforeAndLimit(t *testing.T) {
	repo := New()
	ctx := context.Background()
	now := time.Now()

	due := pendingTask("tx:due")
	if _, _, err := repo.InsertTask(ctx, due); err != nil {
		t.Fatalf("insert: %v", err)
	}
	future := pendingTask("tx:future")
	future.NotBefore = now.Add(time.Hour)
	if _, _, err := repo.InsertTask(ctx, future); err != nil {
		t.Fatalf("insert: %v", err)
	}

	claimedTasks, err := repo.ClaimDueTasks(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimedTasks) != 1 || claimedTasks[0].ID != due.ID {
		t.Fatalf("expected only the due task, got %+v", claimedTasks)
	}
}

func TestMark_RequiresRunning(t *testing.T) {
	repo := New()
	ctx := context.Background()

	task := pendingTask("tx:d")
	if _, _, err := repo.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := repo.MarkSucceeded(ctx, task.ID); err == nil {
		t.Error("expected error marking a pending task succeeded")
	}
	if err := repo.MarkSucceeded(ctx, uuid.New()); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestResetStuckRunning(t *testing.T) {
	repo := New()
	ctx := context.Background()

	task := pendingTask("tx:e")
	if _, _, err := repo.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.ClaimDueTasks(ctx, time.Now(), 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Cutoff in the past: the freshly claimed task is not stuck yet.
	n, err := repo.ResetStuckRunning(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no reclaim of fresh task, got %d", n)
	}

	// Cutoff in the future: the running task counts as stuck.
	n, err = repo.ResetStuckRunning(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed task, got %d", n)
	}

	got, err := repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusRetrying {
		t.Errorf("expected retrying after reclaim, got %s", got.Status)
	}
}
