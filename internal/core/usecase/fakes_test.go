package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

type fakeClock struct {
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	return ctx.Err()
}

type pollStep struct {
	handle domain.JobHandle
	err    error
}

type batchServiceFake struct {
	uploadErr error
	createErr error
	fileID    string
	jobID     string

	polls     []pollStep
	pollCalls int

	files         map[string][]byte
	downloadErr   error
	downloadCalls int

	uploaded []byte
	created  int
}

func (f *batchServiceFake) UploadBatchFile(_ context.Context, _ string, body io.Reader) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	raw, _ := io.ReadAll(body)
	f.uploaded = raw
	if f.fileID == "" {
		return "file-in", nil
	}
	return f.fileID, nil
}

func (f *batchServiceFake) CreateBatch(_ context.Context, inputFileID string) (domain.JobHandle, error) {
	f.created++
	if f.createErr != nil {
		return domain.JobHandle{}, f.createErr
	}
	jobID := f.jobID
	if jobID == "" {
		jobID = "batch-1"
	}
	return domain.JobHandle{JobID: jobID, Status: domain.JobStatusPending, InputRef: inputFileID}, nil
}

func (f *batchServiceFake) GetBatch(_ context.Context, jobID string) (domain.JobHandle, error) {
	f.pollCalls++
	if len(f.polls) == 0 {
		return domain.JobHandle{}, fmt.Errorf("unexpected poll of %s", jobID)
	}
	idx := f.pollCalls - 1
	if idx >= len(f.polls) {
		idx = len(f.polls) - 1
	}
	step := f.polls[idx]
	return step.handle, step.err
}

func (f *batchServiceFake) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	f.downloadCalls++
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	raw, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("file not found: " + fileID)
	}
	return raw, nil
}

type memoryStorage struct {
	blobs map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{blobs: make(map[string][]byte)}
}

func (s *memoryStorage) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.blobs[key] = raw
	return nil
}

func (s *memoryStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s.blobs[key]
	if !ok {
		return nil, errors.New("missing artifact " + key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type ledgerFake struct {
	entries map[string]*domain.LedgerEntry
	active  *domain.LedgerEntry
}

func newLedgerFake() *ledgerFake {
	return &ledgerFake{entries: make(map[string]*domain.LedgerEntry)}
}

func (l *ledgerFake) Begin(_ context.Context, entry domain.LedgerEntry) error {
	copyEntry := entry
	l.entries[entry.RunID] = &copyEntry
	return nil
}

func (l *ledgerFake) RecordUpload(_ context.Context, runID, fileID string) error {
	l.entries[runID].FileID = fileID
	return nil
}

func (l *ledgerFake) RecordJob(_ context.Context, runID string, handle domain.JobHandle) error {
	l.entries[runID].JobID = handle.JobID
	l.entries[runID].Status = string(handle.Status)
	return nil
}

func (l *ledgerFake) Fail(_ context.Context, runID, status, note string) error {
	l.entries[runID].Status = status
	l.entries[runID].Note = note
	return nil
}

func (l *ledgerFake) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus, note string) error {
	for _, entry := range l.entries {
		if entry.JobID == jobID {
			entry.Status = string(status)
			entry.Note = note
		}
	}
	return nil
}

func (l *ledgerFake) FindActive(context.Context, string, string) (*domain.LedgerEntry, error) {
	return l.active, nil
}

func (l *ledgerFake) GetByJobID(_ context.Context, jobID string) (*domain.LedgerEntry, error) {
	for _, entry := range l.entries {
		if entry.JobID == jobID {
			copyEntry := *entry
			return &copyEntry, nil
		}
	}
	return nil, nil
}

type exporterFake struct {
	reports []domain.Report
}

func (e *exporterFake) Export(_ context.Context, report domain.Report) (string, error) {
	e.reports = append(e.reports, report)
	return "/tmp/report.xlsx", nil
}

type sourceFake struct {
	groups  []domain.ConversationGroup
	err     error
	windows []domain.ExtractionWindow
}

func (s *sourceFake) ListConversations(_ context.Context, window domain.ExtractionWindow) ([]domain.ConversationGroup, error) {
	s.windows = append(s.windows, window)
	return s.groups, s.err
}

type observerFake struct {
	polls  map[string]int
	stages []string
}

func (o *observerFake) ObservePoll(outcome string) {
	if o.polls == nil {
		o.polls = make(map[string]int)
	}
	o.polls[outcome]++
}

func (o *observerFake) ObserveStage(stage string, _ float64, _ error) {
	o.stages = append(o.stages, stage)
}

func (o *observerFake) ObserveSummary(domain.RunSummary) {}

func outputLineJSON(customID, content string, tokens int) string {
	return fmt.Sprintf(`{"id":"req-%s","custom_id":%q,"response":{"status_code":200,"body":{"choices":[{"index":0,"message":{"role":"assistant","content":%q}}],"usage":{"total_tokens":%d}}},"error":null}`,
		customID, customID, content, tokens)
}
