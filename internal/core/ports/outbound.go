package ports

import (
	"context"
	"io"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

// ConversationSource reads grouped conversations from the message store.
type ConversationSource interface {
	ListConversations(ctx context.Context, window domain.ExtractionWindow) ([]domain.ConversationGroup, error)
}

// BatchService is the asynchronous classification provider.
type BatchService interface {
	UploadBatchFile(ctx context.Context, filename string, body io.Reader) (string, error)
	CreateBatch(ctx context.Context, inputFileID string) (domain.JobHandle, error)
	GetBatch(ctx context.Context, jobID string) (domain.JobHandle, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// ArtifactStorage keeps batch input and output files of a run.
type ArtifactStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// JobLedger records submissions so a job is never created twice by accident.
type JobLedger interface {
	Begin(ctx context.Context, entry domain.LedgerEntry) error
	RecordUpload(ctx context.Context, runID, fileID string) error
	RecordJob(ctx context.Context, runID string, handle domain.JobHandle) error
	Fail(ctx context.Context, runID, status, note string) error
	UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, note string) error
	FindActive(ctx context.Context, profile, sourceID string) (*domain.LedgerEntry, error)
	GetByJobID(ctx context.Context, jobID string) (*domain.LedgerEntry, error)
}

// ReportExporter writes the final report and returns its location.
type ReportExporter interface {
	Export(ctx context.Context, report domain.Report) (string, error)
}

// Notifier announces run outcomes.
type Notifier interface {
	NotifyRun(ctx context.Context, summary domain.RunSummary, reportPath string, runErr error) error
}

// PipelineObserver receives stage telemetry.
type PipelineObserver interface {
	ObservePoll(outcome string)
	ObserveStage(stage string, seconds float64, err error)
	ObserveSummary(summary domain.RunSummary)
}

// RunHistory exposes ledger entries to the ops endpoints.
type RunHistory interface {
	ListRecent(ctx context.Context, limit int) ([]domain.LedgerEntry, error)
	GetByJobID(ctx context.Context, jobID string) (*domain.LedgerEntry, error)
}
