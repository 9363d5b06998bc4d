package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/core/ports"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/resilience"
)

const downloadOperation = "batch_download"

type Fetcher struct {
	service  ports.BatchService
	storage  ports.ArtifactStorage
	executor *resilience.Executor
	logger   *slog.Logger
}

func NewFetcher(service ports.BatchService, storage ports.ArtifactStorage, executor *resilience.Executor, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{service: service, storage: storage, executor: executor, logger: logger}
}

// Fetch downloads the output of a completed job and stores it verbatim
// under outputKey.
func (f *Fetcher) Fetch(ctx context.Context, handle domain.JobHandle, outputKey string) (domain.FetchedOutput, error) {
	if handle.Status != domain.JobStatusCompleted {
		return domain.FetchedOutput{}, fmt.Errorf("fetch output of job %s: status is %s", handle.JobID, handle.Status)
	}
	if handle.OutputRef == "" {
		return domain.FetchedOutput{}, &domain.JobError{Kind: domain.ErrNoOutput, JobID: handle.JobID, Status: handle.Status}
	}

	raw, err := f.download(ctx, handle.OutputRef)
	if err != nil {
		return domain.FetchedOutput{}, fmt.Errorf("download output file %s: %w", handle.OutputRef, err)
	}
	if err := f.storage.Save(ctx, outputKey, bytes.NewReader(raw)); err != nil {
		return domain.FetchedOutput{}, fmt.Errorf("store output file: %w", err)
	}
	f.logger.Info("batch_output_saved", "job_id", handle.JobID, "file_id", handle.OutputRef, "key", outputKey, "bytes", len(raw))

	out := domain.FetchedOutput{Output: raw, OutputKey: outputKey}
	if handle.ErrorRef != "" {
		out.FailedItems = f.countFailedItems(ctx, handle)
	}
	return out, nil
}

// countFailedItems reads the provider error file; failures only lose the count.
func (f *Fetcher) countFailedItems(ctx context.Context, handle domain.JobHandle) int {
	raw, err := f.download(ctx, handle.ErrorRef)
	if err != nil {
		f.logger.Warn("batch_error_file_unavailable", "job_id", handle.JobID, "file_id", handle.ErrorRef, "error", err)
		return handle.Counts.Failed
	}
	count := 0
	for _, line := range bytes.Split(raw, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			count++
		}
	}
	f.logger.Warn("batch_items_failed", "job_id", handle.JobID, "failed", count)
	return count
}

func (f *Fetcher) download(ctx context.Context, fileID string) ([]byte, error) {
	if f.executor == nil {
		return f.service.DownloadFile(ctx, fileID)
	}
	raw, err := resilience.Run(ctx, f.executor, downloadOperation, func(callCtx context.Context) ([]byte, error) {
		return f.service.DownloadFile(callCtx, fileID)
	}, classifyDownloadError)
	if err != nil {
		f.logger.Warn("batch_download_failed",
			"file_id", fileID,
			"breaker_state", f.executor.BreakerState(downloadOperation),
			"error", err,
		)
	}
	return raw, err
}

func classifyDownloadError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
