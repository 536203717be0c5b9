package models

import "time"

// JobStatus represents the status of a document sync job.
type JobStatus string

const (
	JobNew      JobStatus = "NEW"
	JobSplitOK  JobStatus = "SPLIT_OK"
	JobEmbedOK  JobStatus = "EMBED_OK"
	JobSynced   JobStatus = "SYNCED"
	JobFailed   JobStatus = "FAILED"
	JobRetrying JobStatus = "RETRYING"
	JobDead     JobStatus = "DEAD"
)

// ValidJobTransitions defines the allowed sync job state transitions.
// A retry attempt resumes from the last durable step, so RETRYING may
// move to any step-completion state or fail again.
var ValidJobTransitions = map[JobStatus][]JobStatus{
	JobNew:      {JobSplitOK, JobFailed},
	JobSplitOK:  {JobEmbedOK, JobFailed},
	JobEmbedOK:  {JobSynced, JobFailed},
	JobFailed:   {JobRetrying, JobDead},
	JobRetrying: {JobSplitOK, JobEmbedOK, JobSynced, JobFailed, JobDead},
	JobSynced:   {}, // Terminal state
	JobDead:     {}, // Terminal state
}

// IsValidJobTransition checks if a job state transition is allowed.
func IsValidJobTransition(from, to JobStatus) bool {
	allowed, exists := ValidJobTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobSynced || s == JobDead
}

// ErrorCategory classifies a sync failure for retry decisions.
type ErrorCategory string

const (
	CategoryTransientNetwork   ErrorCategory = "TRANSIENT_NETWORK"
	CategoryTransientRateLimit ErrorCategory = "TRANSIENT_RATE_LIMIT"
	CategoryTransientStore     ErrorCategory = "TRANSIENT_STORE"
	CategoryPermanentClient    ErrorCategory = "PERMANENT_CLIENT"
	CategoryPermanentData      ErrorCategory = "PERMANENT_DATA"
	CategoryUnknown            ErrorCategory = "UNKNOWN"
)

// IsPermanent reports whether the category bypasses retry.
func (c ErrorCategory) IsPermanent() bool {
	return c == CategoryPermanentClient || c == CategoryPermanentData
}

// SyncJob tracks the ingestion state of a single document.
type SyncJob struct {
	JobID         string        `json:"jobId"`
	DocID         string        `json:"docId"`
	Status        JobStatus     `json:"status"`
	Retries       int           `json:"retries"`
	LastAttemptAt *time.Time    `json:"lastAttemptAt,omitempty"`
	LastError     string        `json:"lastError,omitempty"`
	ErrorCategory ErrorCategory `json:"errorCategory,omitempty"`
	StartedAt     *time.Time    `json:"startedAt,omitempty"`
	FinishedAt    *time.Time    `json:"finishedAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// JobStats aggregates sync job state for operators.
type JobStats struct {
	CountsByStatus    map[JobStatus]int `json:"countsByStatus"`
	ActiveRetries     int               `json:"activeRetries"`
	AvgSyncDurationMs float64           `json:"avgSyncDurationMs"`
	RecentFailures    []JobFailure      `json:"recentFailures"`
}

// JobFailure is a recent failed or dead job entry.
type JobFailure struct {
	DocID         string        `json:"docId"`
	Status        JobStatus     `json:"status"`
	Retries       int           `json:"retries"`
	LastError     string        `json:"lastError,omitempty"`
	ErrorCategory ErrorCategory `json:"errorCategory,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}
