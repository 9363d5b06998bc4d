package domain

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusExpired    JobStatus = "expired"
	JobStatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusExpired, JobStatusCancelled:
		return true
	default:
		return false
	}
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress:
		return true
	default:
		return s.IsTerminal()
	}
}

type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobHandle is the last observed state of a submitted batch job.
type JobHandle struct {
	JobID     string        `json:"job_id"`
	Status    JobStatus     `json:"status"`
	InputRef  string        `json:"input_ref,omitempty"`
	OutputRef string        `json:"output_ref,omitempty"`
	ErrorRef  string        `json:"error_ref,omitempty"`
	Counts    RequestCounts `json:"request_counts"`
}

// FetchedOutput holds the raw job output as downloaded.
type FetchedOutput struct {
	Output      []byte
	OutputKey   string
	FailedItems int
}

const (
	LedgerSubmitting        = "submitting"
	LedgerUploadFailed      = "upload_failed"
	LedgerSubmissionUnknown = "submission_unknown"
)

// LedgerEntry tracks one submission so a job is never created twice blindly.
// Status holds a JobStatus once the job exists, or one of the Ledger*
// values before that.
type LedgerEntry struct {
	RunID     string    `json:"run_id"`
	Profile   string    `json:"profile"`
	SourceID  string    `json:"source_id"`
	StartTime string    `json:"start_time"`
	InputKey  string    `json:"input_key"`
	FileID    string    `json:"file_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the entry may still own a live job at the provider.
func (e LedgerEntry) Active() bool {
	if e.Status == LedgerUploadFailed {
		return false
	}
	return !JobStatus(e.Status).IsTerminal()
}
