package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ecociel/fetchq/domain"
	"github.com/ecociel/fetchq/uc"
	restful "github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// API is the thin inbound surface: it only calls the enqueue and status
// use cases. Auth and anything else web-framework-shaped stays outside.
type API struct {
	enqueue uc.EnqueueUseCase
	status  uc.StatusUseCase
	log     zerolog.Logger
}

func New(enqueue uc.EnqueueUseCase, status uc.StatusUseCase, log zerolog.Logger) *API {
	return &API{enqueue: enqueue, status: status, log: log}
}

func (a *API) WebService() *restful.WebService {
	ws := new(restful.WebService)
	ws.Path("/tasks").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)

	ws.Route(ws.POST("").To(a.enqueueTask))
	ws.Route(ws.GET("/{task-id}").To(a.taskStatus))
	return ws
}

type enqueueRequest struct {
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	DedupKey     string          `json:"dedup_key"`
	DelaySeconds int             `json:"delay_seconds"`
}

type enqueueResponse struct {
	TaskID string `json:"task_id"`
}

type taskResponse struct {
	TaskID       string `json:"task_id"`
	Kind         string `json:"kind"`
	DedupKey     string `json:"dedup_key"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	NotBefore    string `json:"not_before"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	LastError    string `json:"last_error,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (a *API) enqueueTask(req *restful.Request, resp *restful.Response) {
	var body enqueueRequest
	if err := req.ReadEntity(&body); err != nil {
		writeError(resp, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Kind == "" || body.DedupKey == "" {
		writeError(resp, http.StatusUnprocessableEntity, "kind and dedup_key are required")
		return
	}
	delay := time.Duration(body.DelaySeconds) * time.Second

	id, err := a.enqueue(req.Request.Context(), domain.Kind(body.Kind), body.Payload, body.DedupKey, delay)
	if err != nil {
		if errors.Is(err, uc.ErrInvalidPayload) {
			writeError(resp, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.log.Error().Err(err).Str("kind", body.Kind).Msg("enqueue failed")
		writeError(resp, http.StatusInternalServerError, "enqueue failed")
		return
	}

	_ = resp.WriteHeaderAndEntity(http.StatusAccepted, enqueueResponse{TaskID: id.String()})
}

func (a *API) taskStatus(req *restful.Request, resp *restful.Response) {
	id, err := uuid.Parse(req.PathParameter("task-id"))
	if err != nil {
		writeError(resp, http.StatusBadRequest, "task id must be a UUID")
		return
	}

	task, err := a.status(req.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			writeError(resp, http.StatusNotFound, "task not found")
			return
		}
		a.log.Error().Err(err).Stringer("task_id", id).Msg("status read failed")
		writeError(resp, http.StatusInternalServerError, "status read failed")
		return
	}

	_ = resp.WriteEntity(taskResponse{
		TaskID:       task.ID.String(),
		Kind:         string(task.Kind),
		DedupKey:     task.DedupKey,
		Status:       string(task.Status),
		AttemptCount: task.AttemptCount,
		NotBefore:    task.NotBefore.Format(time.RFC3339),
		CreatedAt:    task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    task.UpdatedAt.Format(time.RFC3339),
		LastError:    task.LastError,
	})
}

func writeError(resp *restful.Response, status int, message string) {
	_ = resp.WriteHeaderAndEntity(status, errorResponse{Message: message})
}
