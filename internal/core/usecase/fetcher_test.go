package usecase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/resilience"
)

func TestFetchStoresOutputVerbatim(t *testing.T) {
	raw := []byte(outputLineJSON("id-A", "Assuntos: x", 3) + "\n")
	service := &batchServiceFake{files: map[string][]byte{"file-out": raw, "file-err": []byte("{}\n{}\n")}}
	storage := newMemoryStorage()

	fetched, err := NewFetcher(service, storage, nil, nil).Fetch(context.Background(), domain.JobHandle{
		JobID:     "batch-1",
		Status:    domain.JobStatusCompleted,
		OutputRef: "file-out",
		ErrorRef:  "file-err",
	}, "out.jsonl")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(storage.blobs["out.jsonl"]) != string(raw) || string(fetched.Output) != string(raw) {
		t.Fatalf("output not stored verbatim")
	}
	if fetched.FailedItems != 2 {
		t.Fatalf("expected 2 failed items from error file, got %d", fetched.FailedItems)
	}
}

func TestFetchReportsCompletedWithoutOutput(t *testing.T) {
	service := &batchServiceFake{}
	_, err := NewFetcher(service, newMemoryStorage(), nil, nil).Fetch(context.Background(), domain.JobHandle{
		JobID:  "batch-1",
		Status: domain.JobStatusCompleted,
	}, "out.jsonl")
	if !errors.Is(err, domain.ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
	if service.downloadCalls != 0 {
		t.Fatalf("expected no download attempt")
	}
}

func TestFetchRetriesTransientDownloadErrors(t *testing.T) {
	service := &batchServiceFake{downloadErr: domain.WrapError(domain.ErrTemporary, "download", errors.New("502"))}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: 3,
		BreakerEnabled:   false,
		Clock:            &fakeClock{},
	}, nil)

	_, err := NewFetcher(service, newMemoryStorage(), executor, nil).Fetch(context.Background(), domain.JobHandle{
		JobID:     "batch-1",
		Status:    domain.JobStatusCompleted,
		OutputRef: "file-out",
	}, "out.jsonl")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error after retries, got %v", err)
	}
	if service.downloadCalls != 3 {
		t.Fatalf("expected 3 download attempts, got %d", service.downloadCalls)
	}
}

func TestFetchLogsBreakerStateWhenDownloadFails(t *testing.T) {
	service := &batchServiceFake{downloadErr: errors.New("404 no such file")}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:   1,
		BreakerEnabled:     true,
		BreakerMinRequests: 1,
		Clock:              &fakeClock{},
	}, nil)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	_, err := NewFetcher(service, newMemoryStorage(), executor, logger).Fetch(context.Background(), domain.JobHandle{
		JobID:     "batch-1",
		Status:    domain.JobStatusCompleted,
		OutputRef: "file-out",
	}, "out.jsonl")
	if err == nil {
		t.Fatalf("expected download error")
	}
	out := logs.String()
	if !strings.Contains(out, `"msg":"batch_download_failed"`) || !strings.Contains(out, `"breaker_state":"open"`) {
		t.Fatalf("expected breaker state in failure log, got %s", out)
	}
}
