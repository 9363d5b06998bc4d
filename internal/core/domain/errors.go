package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration       = errors.New("configuration error")
	ErrExtraction          = errors.New("extraction failed")
	ErrEncoding            = errors.New("encoding failed")
	ErrSubmission          = errors.New("submission failed")
	ErrTemporary           = errors.New("temporary failure")
	ErrJobTerminal         = errors.New("job finished without success")
	ErrMonitoringAbandoned = errors.New("monitoring abandoned")
	ErrNoOutput            = errors.New("job completed with no output")
	ErrParse               = errors.New("malformed result record")
	ErrJoinMismatch        = errors.New("correlation id mismatch")
	ErrActiveJobExists     = errors.New("active job already submitted")
	ErrNothingToSubmit     = errors.New("nothing to submit")
	ErrRunNotFound         = errors.New("run not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// JobError reports a job-level outcome that stops the pipeline before parsing.
// Kind is one of ErrJobTerminal, ErrMonitoringAbandoned or ErrNoOutput.
type JobError struct {
	Kind     error
	JobID    string
	Status   JobStatus
	Attempts int
}

func (e *JobError) Error() string {
	if e == nil {
		return "job error"
	}
	switch e.Kind {
	case ErrMonitoringAbandoned:
		return fmt.Sprintf("%v: job %s still %s after %d polls (it may complete later; resume with --job-id %s)",
			e.Kind, e.JobID, e.Status, e.Attempts, e.JobID)
	default:
		return fmt.Sprintf("%v: job %s status=%s", e.Kind, e.JobID, e.Status)
	}
}

func (e *JobError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}
