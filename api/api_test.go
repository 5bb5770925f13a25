package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ecociel/fetchq/domain"
	"github.com/ecociel/fetchq/uc"
	restful "github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestServer(enqueue uc.EnqueueUseCase, status uc.StatusUseCase) *httptest.Server {
	container := restful.NewContainer()
	container.Add(New(enqueue, status, zerolog.Nop()).WebService())
	return httptest.NewServer(container)
}

func TestEnqueueTask_Accepted(t *testing.T) {
	wantID := uuid.New()
	var gotKind domain.Kind
	var gotDedup string
	var gotDelay time.Duration
	enqueue := func(ctx context.Context, kind domain.Kind, payload []byte, dedupKey string, delay time.Duration) (uuid.UUID, error) {
		gotKind = kind
		gotDedup = dedupKey
		gotDelay = delay
		return wantID, nil
	}
	server := newTestServer(enqueue, nil)
	defer server.Close()

	body := `{"kind":"fetch_transactions","payload":{"item_id":"a"},"dedup_key":"tx:a","delay_seconds":20}`
	resp, err := http.Post(server.URL+"/tasks", restful.MIME_JSON, strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var out enqueueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.TaskID != wantID.String() {
		t.Errorf("expected task id %s, got %s", wantID, out.TaskID)
	}
	if gotKind != domain.KindFetchTransactions {
		t.Errorf("expected kind fetch_transactions, got %s", gotKind)
	}
	if gotDedup != "tx:a" {
		t.Errorf("expected dedup key tx:a, got %s", gotDedup)
	}
	if gotDelay != 20*time.Second {
		t.Errorf("expected 20s delay, got %v", gotDelay)
	}
}

func TestEnqueueTask_MissingFields(t *testing.T) {
	enqueue := func(ctx context.Context, kind domain.Kind, payload []byte, dedupKey string, delay time.Duration) (uuid.UUID, error) {
		t.Fatal("enqueue must not be called")
		return uuid.Nil, nil
	}
	server := newTestServer(enqueue, nil)
	defer server.Close()

	resp, err := http.Post(server.URL+"/tasks", restful.MIME_JSON, strings.NewReader(`{"payload":{}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestEnqueueTask_InvalidPayload(t *testing.T) {
	enqueue := func(ctx context.Context, kind domain.Kind, payload []byte, dedupKey string, delay time.Duration) (uuid.UUID, error) {
		return uuid.Nil, uc.ErrInvalidPayload
	}
	server := newTestServer(enqueue, nil)
	defer server.Close()

	body := `{"kind":"fetch_accounts","payload":[1],"dedup_key":"a"}`
	resp, err := http.Post(server.URL+"/tasks", restful.MIME_JSON, strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestTaskStatus_Found(t *testing.T) {
	task := domain.Task{
		ID:           uuid.New(),
		Kind:         domain.KindFetchAccounts,
		DedupKey:     "accounts:a",
		Status:       domain.StatusRetrying,
		AttemptCount: 2,
		NotBefore:    time.Now().Add(time.Minute),
		CreatedAt:    time.Now().Add(-time.Minute),
		UpdatedAt:    time.Now(),
		LastError:    "HTTP 503",
	}
	status := func(ctx context.Context, id uuid.UUID) (domain.Task, error) {
		if id != task.ID {
			t.Errorf("expected lookup of %s, got %s", task.ID, id)
		}
		return task, nil
	}
	server := newTestServer(nil, status)
	defer server.Close()

	resp, err := http.Get(server.URL + "/tasks/" + task.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != string(domain.StatusRetrying) {
		t.Errorf("expected retrying, got %s", out.Status)
	}
	if out.AttemptCount != 2 {
		t.Errorf("expected attempt count 2, got %d", out.AttemptCount)
	}
	if out.LastError != "HTTP 503" {
		t.Errorf("expected last error, got %q", out.LastError)
	}
}

func TestTaskStatus_NotFound(t *testing.T) {
	status := func(ctx context.Context, id uuid.UUID) (domain.Task, error) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	server := newTestServer(nil, status)
	defer server.Close()

	resp, err := http.Get(server.URL + "/tasks/" + uuid.NewString())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestTaskStatus_BadID(t *testing.T) {
	status := func(ctx context.Context, id uuid.UUID) (domain.Task, error) {
		t.Fatal("status must not be called")
		return domain.Task{}, nil
	}
	server := newTestServer(nil, status)
	defer server.Close()

	resp, err := http.Get(server.URL + "/tasks/not-a-uuid")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestEnqueueTask_InternalError(t *testing.T) {
	enqueue := func(ctx context.Context, kind domain.Kind, payload []byte, dedupKey string, delay time.Duration) (uuid.UUID, error) {
		return uuid.Nil, errors.New("store down")
	}
	server := newTestServer(enqueue, nil)
	defer server.Close()

	body := `{"kind":"fetch_accounts","dedup_key":"a"}`
	resp, err := http.Post(server.URL+"/tasks", restful.MIME_JSON, strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
