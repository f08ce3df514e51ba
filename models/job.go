package models

import "time"

// ExecutionStatus tracks one run of a named ingestion job.
type ExecutionStatus string

const (
	ExecutionStarting  ExecutionStatus = "STARTING"
	ExecutionStarted   ExecutionStatus = "STARTED"
	ExecutionStopping  ExecutionStatus = "STOPPING"
	ExecutionStopped   ExecutionStatus = "STOPPED"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionAbandoned ExecutionStatus = "ABANDONED"
)

// Running reports whether an execution may still have in-flight work.
func (s ExecutionStatus) Running() bool {
	switch s {
	case ExecutionStarting, ExecutionStarted, ExecutionStopping:
		return true
	default:
		return false
	}
}

// Restartable reports whether a new execution may resume from this one.
func (s ExecutionStatus) Restartable() bool {
	return s == ExecutionFailed || s == ExecutionStopped
}

// JobExecution is the persisted state of a job run. InstanceID groups the
// original execution with every restart of it. Export names the provider
// export file Checkpoint counts lines of; restarts reopen the same file.
type JobExecution struct {
	ID          string          `json:"id"`
	JobName     string          `json:"jobName"`
	InstanceID  string          `json:"instanceId"`
	Status      ExecutionStatus `json:"status"`
	Checkpoint  int64           `json:"checkpoint"`
	Export      string          `json:"export,omitempty"`
	ExitMessage string          `json:"exitMessage,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	EndedAt     *time.Time      `json:"endedAt,omitempty"`
}

// Credential is a provider secret with an optimistic-concurrency version.
type Credential struct {
	KeyID     string    `json:"keyId"`
	Secret    string    `json:"-"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Credential key identifiers.
const (
	CredentialTMDBAPIKey       = "tmdb_api_key"
	CredentialIGDBClientID     = "igdb_client_id"
	CredentialIGDBClientSecret = "igdb_client_secret"
	CredentialIGDBToken        = "igdb_token"
)
