package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"geekcatalog/models"
)

// jobOperator is the part of *jobs.Operator the admin routes drive.
type jobOperator interface {
	Jobs() []string
	Run(ctx context.Context, name string) (string, error)
	Stop(ctx context.Context, executionID string) error
	Restart(ctx context.Context, executionID string) (string, error)
	Abandon(ctx context.Context, executionID string) error
	Get(ctx context.Context, executionID string) (*models.JobExecution, error)
}

// JobsHandler exposes the batch admin operations.
type JobsHandler struct {
	operator jobOperator
}

func NewJobsHandler(operator jobOperator) *JobsHandler {
	return &JobsHandler{operator: operator}
}

type executionResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status,omitempty"`
}

// ExecutionView is the public shape of an execution. Exit messages of failed
// executions stay in the store since they can carry provider errors.
type ExecutionView struct {
	ID         string     `json:"id"`
	JobName    string     `json:"jobName"`
	InstanceID string     `json:"instanceId"`
	Status     string     `json:"status"`
	Checkpoint int64      `json:"checkpoint"`
	Summary    string     `json:"summary,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}

func viewOf(e *models.JobExecution) ExecutionView {
	v := ExecutionView{
		ID:         e.ID,
		JobName:    e.JobName,
		InstanceID: e.InstanceID,
		Status:     string(e.Status),
		Checkpoint: e.Checkpoint,
		CreatedAt:  e.CreatedAt,
		StartedAt:  e.StartedAt,
		EndedAt:    e.EndedAt,
	}
	if e.Status == models.ExecutionCompleted {
		v.Summary = e.ExitMessage
	}
	return v
}

// List handles GET /admin/jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"jobs": h.operator.Jobs()})
}

// Run handles POST /admin/jobs/{name}/run.
func (h *JobsHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, err := h.operator.Run(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusAccepted, executionResponse{ExecutionID: id, Status: string(models.ExecutionStarted)})
}

// Get handles GET /admin/executions/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exec, err := h.operator.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(exec))
}

// Stop handles POST /admin/executions/{id}/stop.
func (h *JobsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.operator.Stop(r.Context(), id); err != nil {
		writeError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusAccepted, executionResponse{ExecutionID: id, Status: string(models.ExecutionStopping)})
}

// Restart handles POST /admin/executions/{id}/restart.
func (h *JobsHandler) Restart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	next, err := h.operator.Restart(r.Context(), id)
	if err != nil {
		writeError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusAccepted, executionResponse{ExecutionID: next, Status: string(models.ExecutionStarted)})
}

// Abandon handles POST /admin/executions/{id}/abandon.
func (h *JobsHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.operator.Abandon(r.Context(), id); err != nil {
		writeError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, executionResponse{ExecutionID: id, Status: string(models.ExecutionAbandoned)})
}
