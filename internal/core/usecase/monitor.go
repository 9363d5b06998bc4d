package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/core/ports"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/resilience"
)

const (
	PollOutcomeStatus     = "status"
	PollOutcomeTransient  = "transient_error"
	PollOutcomeUnexpected = "unexpected_error"
)

// JobMonitor observes a batch job until it reaches a terminal status or the
// poll budget runs out. It never cancels the job.
type JobMonitor struct {
	service  ports.BatchService
	policy   resilience.PollPolicy
	clock    resilience.Clock
	observer ports.PipelineObserver
	logger   *slog.Logger
}

func NewJobMonitor(service ports.BatchService, policy resilience.PollPolicy, clock resilience.Clock, observer ports.PipelineObserver, logger *slog.Logger) *JobMonitor {
	if clock == nil {
		clock = resilience.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobMonitor{
		service:  service,
		policy:   policy.Normalize(),
		clock:    clock,
		observer: observer,
		logger:   logger,
	}
}

// Wait returns the completed handle, a *domain.JobError of kind
// ErrJobTerminal when the job ended unsuccessfully, or one of kind
// ErrMonitoringAbandoned when the budget ran out first.
func (m *JobMonitor) Wait(ctx context.Context, jobID string) (domain.JobHandle, error) {
	handle := domain.JobHandle{JobID: jobID, Status: domain.JobStatusPending}

	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return handle, err
		}

		polled, err := m.service.GetBatch(ctx, jobID)
		switch {
		case err != nil:
			m.logPollError(jobID, attempt, err)
		case !polled.Status.Valid():
			m.observe(PollOutcomeUnexpected)
			m.logger.Error("poll_unexpected_error",
				"job_id", jobID,
				"attempt", attempt,
				"max_attempts", m.policy.MaxAttempts,
				"error", fmt.Sprintf("unknown job status %q", polled.Status),
			)
		default:
			m.observe(PollOutcomeStatus)
			if polled.Status != handle.Status {
				m.logger.Info("job_status_changed", "job_id", jobID, "from", handle.Status, "to", polled.Status, "attempt", attempt)
			} else {
				m.logger.Debug("job_status", "job_id", jobID, "status", polled.Status, "attempt", attempt)
			}
			polled.JobID = jobID
			handle = polled

			if handle.Status.IsTerminal() {
				if handle.Status == domain.JobStatusCompleted {
					return handle, nil
				}
				return handle, &domain.JobError{Kind: domain.ErrJobTerminal, JobID: jobID, Status: handle.Status, Attempts: attempt}
			}
		}

		if attempt == m.policy.MaxAttempts {
			break
		}
		if err := m.clock.Sleep(ctx, m.policy.Delay(attempt)); err != nil {
			return handle, err
		}
	}

	m.logger.Warn("monitoring_abandoned", "job_id", jobID, "last_status", handle.Status, "attempts", m.policy.MaxAttempts)
	return handle, &domain.JobError{
		Kind:     domain.ErrMonitoringAbandoned,
		JobID:    jobID,
		Status:   handle.Status,
		Attempts: m.policy.MaxAttempts,
	}
}

func (m *JobMonitor) logPollError(jobID string, attempt int, err error) {
	if domain.IsKind(err, domain.ErrTemporary) {
		m.observe(PollOutcomeTransient)
		m.logger.Warn("poll_transient_error",
			"job_id", jobID,
			"attempt", attempt,
			"max_attempts", m.policy.MaxAttempts,
			"retry_in", m.policy.Delay(attempt).String(),
			"error", err,
		)
		return
	}
	m.observe(PollOutcomeUnexpected)
	m.logger.Error("poll_unexpected_error",
		"job_id", jobID,
		"attempt", attempt,
		"max_attempts", m.policy.MaxAttempts,
		"retry_in", m.policy.Delay(attempt).String(),
		"error", err,
	)
}

func (m *JobMonitor) observe(outcome string) {
	if m.observer != nil {
		m.observer.ObservePoll(outcome)
	}
}
