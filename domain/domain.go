package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// InFlight reports whether a task in this status still holds its dedup key.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusRunning || s == StatusRetrying
}

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

type Kind string

// Built-in task kinds, named after the upstream fetch operations.
const (
	KindFetchItemMetadata Kind = "fetch_item_metadata"
	KindFetchAccounts     Kind = "fetch_accounts"
	KindFetchTransactions Kind = "fetch_transactions"
)

const HeaderID = "id"
const HeaderKind = "kind"
const HeaderStatus = "status"
const HeaderAttempt = "attempt"

type Task struct {
	ID           uuid.UUID
	Kind         Kind
	Payload      []byte
	DedupKey     string
	Status       Status
	AttemptCount int
	NotBefore    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastError    string
}

// Event is the outcome record emitted on retry and terminal transitions.
type Event struct {
	TaskID  uuid.UUID       `json:"task_id"`
	Kind    Kind            `json:"kind"`
	Status  Status          `json:"status"`
	Attempt int             `json:"attempt"`
	Reason  string          `json:"reason,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	At      time.Time       `json:"at"`
}
