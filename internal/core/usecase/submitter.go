package usecase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/core/ports"
)

// Submitter uploads the batch input and registers the job. It never retries:
// a repeated create could queue a second billable job.
type Submitter struct {
	service ports.BatchService
	logger  *slog.Logger
}

func NewSubmitter(service ports.BatchService, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{service: service, logger: logger}
}

// Submission is what a successful or half-finished submit produced.
type Submission struct {
	FileID string
	Handle domain.JobHandle
}

// Submit uploads payload, the JSONL batch input already stored as the run's
// artifact, and creates the job from it.
func (s *Submitter) Submit(ctx context.Context, filename string, payload []byte, units int) (Submission, error) {
	if units == 0 || len(payload) == 0 {
		return Submission{}, domain.ErrNothingToSubmit
	}

	fileID, err := s.service.UploadBatchFile(ctx, filename, bytes.NewReader(payload))
	if err != nil {
		return Submission{}, domain.WrapError(domain.ErrSubmission, "upload batch input", err)
	}
	s.logger.Info("batch_file_uploaded", "file_id", fileID, "units", units, "bytes", len(payload))

	handle, err := s.service.CreateBatch(ctx, fileID)
	if err != nil {
		return Submission{FileID: fileID}, domain.WrapError(domain.ErrSubmission,
			fmt.Sprintf("create batch job (uploaded file %s; check the provider before resubmitting)", fileID), err)
	}
	if handle.JobID == "" {
		return Submission{FileID: fileID}, domain.WrapError(domain.ErrSubmission, "create batch job", errors.New("provider returned empty job id"))
	}
	if handle.Status == "" {
		handle.Status = domain.JobStatusPending
	}
	handle.InputRef = fileID
	s.logger.Info("batch_job_created", "job_id", handle.JobID, "status", handle.Status)

	return Submission{FileID: fileID, Handle: handle}, nil
}

// EncodeJSONL writes one JSON object per line without HTML escaping.
func EncodeJSONL(units []domain.RequestUnit) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, unit := range units {
		if err := enc.Encode(unit); err != nil {
			return nil, fmt.Errorf("encode unit %s: %w", unit.CorrelationID, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeJSONL reads request units back; unreadable lines are skipped.
func DecodeJSONL(r io.Reader) ([]domain.RequestUnit, int, error) {
	scanner := newLineScanner(r)
	units := make([]domain.RequestUnit, 0)
	skipped := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var unit domain.RequestUnit
		if err := json.Unmarshal(line, &unit); err != nil || unit.CorrelationID == "" {
			skipped++
			continue
		}
		units = append(units, unit)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scan batch input: %w", err)
	}
	return units, skipped, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return scanner
}
