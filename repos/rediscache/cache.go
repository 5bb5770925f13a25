package rediscache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ecociel/fetchq/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is a write-through status cache. The postgres store stays
// authoritative; entries here only shortcut status reads and expire on TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

func (c *Cache) Put(ctx context.Context, task domain.Task) error {
	k := taskKey(task.ID)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, k,
		"kind", string(task.Kind),
		"dedup_key", task.DedupKey,
		"status", string(task.Status),
		"attempt_count", strconv.Itoa(task.AttemptCount),
		"not_before", strconv.FormatInt(task.NotBefore.UnixNano(), 10),
		"created_at", strconv.FormatInt(task.CreatedAt.UnixNano(), 10),
		"updated_at", strconv.FormatInt(task.UpdatedAt.UnixNano(), 10),
		"last_error", task.LastError,
	)
	pipe.Expire(ctx, k, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache task %s: %w", task.ID, err)
	}
	return nil
}

func (c *Cache) Get(ctx context.Context, id uuid.UUID) (domain.Task, bool, error) {
	m, err := c.client.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("read cached task %s: %w", id, err)
	}
	if len(m) == 0 {
		return domain.Task{}, false, nil
	}

	toInt := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	toTime := func(s string) time.Time {
		n, _ := strconv.ParseInt(s, 10, 64)
		return time.Unix(0, n)
	}

	return domain.Task{
		ID:           id,
		Kind:         domain.Kind(m["kind"]),
		DedupKey:     m["dedup_key"],
		Status:       domain.Status(m["status"]),
		AttemptCount: toInt(m["attempt_count"]),
		NotBefore:    toTime(m["not_before"]),
		CreatedAt:    toTime(m["created_at"]),
		UpdatedAt:    toTime(m["updated_at"]),
		LastError:    m["last_error"],
	}, true, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func taskKey(id uuid.UUID) string { return fmt.Sprintf("task:%s", id) }
