package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/resilience"
)

type pipelineFixture struct {
	source   *sourceFake
	service  *batchServiceFake
	storage  *memoryStorage
	ledger   *ledgerFake
	exporter *exporterFake
	observer *observerFake
}

func newPipelineFixture() *pipelineFixture {
	completed := status(domain.JobStatusCompleted)
	completed.handle.OutputRef = "file-out"
	return &pipelineFixture{
		source: &sourceFake{groups: []domain.ConversationGroup{
			{ConversationID: "A", Messages: "msg1 || msg2"},
			{ConversationID: "B", Messages: "msg3"},
		}},
		service: &batchServiceFake{
			polls: []pollStep{status(domain.JobStatusInProgress), completed},
			files: map[string][]byte{
				"file-out": []byte(outputLineJSON("id-A", "Assuntos: reserva, valores", 50) + "\n"),
			},
		},
		storage:  newMemoryStorage(),
		ledger:   newLedgerFake(),
		exporter: &exporterFake{},
		observer: &observerFake{},
	}
}

func (f *pipelineFixture) useCase(settings PipelineSettings) *ClassifyConversationsUseCase {
	clock := &fakeClock{}
	return NewClassifyConversationsUseCase(PipelineDeps{
		Source:    f.source,
		Storage:   f.storage,
		Ledger:    f.ledger,
		Exporter:  f.exporter,
		Observer:  f.observer,
		Submitter: NewSubmitter(f.service, nil),
		Monitor:   NewJobMonitor(f.service, resilience.PollPolicy{MaxAttempts: 5, Interval: time.Second}, clock, f.observer, nil),
		Fetcher:   NewFetcher(f.service, f.storage, nil, nil),
		NewRunID:  func() string { return "run-1" },
		Now:       clock.Now,
	}, settings)
}

func defaultSettings() PipelineSettings {
	profile := testProfile()
	profile.Rules = DefaultLabelRules()
	profile.Dimension = ""
	return PipelineSettings{Profile: profile, Window: domain.ExtractionWindow{SourceID: "client-1", Start: "2025-02-09 00:00:00"}}
}

func TestRunProducesReportForPartialBatch(t *testing.T) {
	f := newPipelineFixture()

	result, err := f.useCase(defaultSettings()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ReportPath == "" || len(f.exporter.reports) != 1 {
		t.Fatalf("expected exported report, got %+v", result)
	}
	report := f.exporter.reports[0]
	if len(report.Detail) != 2 {
		t.Fatalf("expected 2 detail rows, got %d", len(report.Detail))
	}
	if len(report.Subjects.Rows) != 4 || report.Subjects.Rows[3].Count != 50 {
		t.Fatalf("unexpected statistics %+v", report.Subjects.Rows)
	}
	if report.Dimensions != nil {
		t.Fatalf("profile without dimension must not produce a dimension table")
	}

	summary := result.Summary
	if summary.JobID != "batch-1" || summary.Extracted != 2 || summary.Submitted != 2 || summary.MissingResults != 1 || summary.TotalTokens != 50 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if f.service.created != 1 {
		t.Fatalf("expected exactly one job, got %d", f.service.created)
	}

	inputKey := "batch_input_20261019_run-1.jsonl"
	if lines := strings.Count(string(f.storage.blobs[inputKey]), "\n"); lines != 2 {
		t.Fatalf("expected stored input with 2 lines, got %d", lines)
	}
	if _, ok := f.storage.blobs["batch_output_batch-1.jsonl"]; !ok {
		t.Fatalf("expected stored output artifact")
	}
	entry := f.ledger.entries["run-1"]
	if entry.FileID != "file-in" || entry.JobID != "batch-1" || entry.Status != string(domain.JobStatusCompleted) {
		t.Fatalf("unexpected ledger entry %+v", entry)
	}
	wantStages := []string{StageExtract, StageSubmit, StageMonitor, StageFetch, StageParse, StageExport}
	if strings.Join(f.observer.stages, ",") != strings.Join(wantStages, ",") {
		t.Fatalf("unexpected stages %v", f.observer.stages)
	}
}

func TestRunWithDimensionProfileAddsTables(t *testing.T) {
	f := newPipelineFixture()
	f.service.files["file-out"] = []byte(outputLineJSON("id-A", "Assuntos: reserva\nUnidade: Lagoa", 20) + "\n" +
		outputLineJSON("id-B", "Assuntos: reserva, rooftop", 30) + "\n")
	settings := defaultSettings()
	settings.Profile = testProfile()

	if _, err := f.useCase(settings).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	report := f.exporter.reports[0]
	if report.Dimensions == nil || len(report.PerUnit) != 2 {
		t.Fatalf("expected dimension tables, got %+v", report)
	}
	if report.Dimensions.Rows[0].Dimension != "Lagoa" && report.Dimensions.Rows[0].Dimension != "Não Informada" {
		t.Fatalf("unexpected dimension row %+v", report.Dimensions.Rows[0])
	}
}

func TestRunStopsOnExtractionError(t *testing.T) {
	f := newPipelineFixture()
	f.source.err = errors.New("connection refused")

	_, err := f.useCase(defaultSettings()).Run(context.Background())
	if !errors.Is(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	if f.service.created != 0 {
		t.Fatalf("no job may be created after extraction failure")
	}
}

func TestRunWithNoConversationsSubmitsNothing(t *testing.T) {
	f := newPipelineFixture()
	f.source.groups = nil

	result, err := f.useCase(defaultSettings()).Run(context.Background())
	if !errors.Is(err, domain.ErrNothingToSubmit) {
		t.Fatalf("expected ErrNothingToSubmit, got %v", err)
	}
	if result == nil || f.service.created != 0 {
		t.Fatalf("expected summary and no job, got %+v created=%d", result, f.service.created)
	}
}

func TestRunRefusesWhileActiveJobExists(t *testing.T) {
	f := newPipelineFixture()
	f.ledger.active = &domain.LedgerEntry{RunID: "run-0", JobID: "batch-0", Status: string(domain.JobStatusInProgress)}

	_, err := f.useCase(defaultSettings()).Run(context.Background())
	if !errors.Is(err, domain.ErrActiveJobExists) {
		t.Fatalf("expected ErrActiveJobExists, got %v", err)
	}
	if f.service.created != 0 {
		t.Fatalf("no job may be created while another one is active")
	}

	settings := defaultSettings()
	settings.AllowDuplicate = true
	if _, err := f.useCase(settings).Run(context.Background()); err != nil {
		t.Fatalf("Run() with duplicates allowed error = %v", err)
	}
}

func TestRunSubmissionFailureIsNotRetried(t *testing.T) {
	f := newPipelineFixture()
	f.service.createErr = errors.New("connection reset by peer")

	_, err := f.useCase(defaultSettings()).Run(context.Background())
	if !errors.Is(err, domain.ErrSubmission) {
		t.Fatalf("expected ErrSubmission, got %v", err)
	}
	if !strings.Contains(err.Error(), "file-in") {
		t.Fatalf("expected uploaded file id in error, got %v", err)
	}
	if f.service.created != 1 {
		t.Fatalf("expected one create attempt, got %d", f.service.created)
	}
	entry := f.ledger.entries["run-1"]
	if entry.Status != domain.LedgerSubmissionUnknown || !entry.Active() {
		t.Fatalf("ambiguous submission must stay active in ledger, got %+v", entry)
	}
}

func TestRunUploadFailureLeavesInactiveLedgerEntry(t *testing.T) {
	f := newPipelineFixture()
	f.service.uploadErr = errors.New("413 request entity too large")

	_, err := f.useCase(defaultSettings()).Run(context.Background())
	if !errors.Is(err, domain.ErrSubmission) {
		t.Fatalf("expected ErrSubmission, got %v", err)
	}
	entry := f.ledger.entries["run-1"]
	if entry.Status != domain.LedgerUploadFailed || entry.Active() {
		t.Fatalf("unexpected ledger entry %+v", entry)
	}
}

func TestRunTerminalFailureWritesNoReport(t *testing.T) {
	f := newPipelineFixture()
	f.service.polls = []pollStep{status(domain.JobStatusExpired)}

	_, err := f.useCase(defaultSettings()).Run(context.Background())
	if !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
	if len(f.exporter.reports) != 0 {
		t.Fatalf("no report may be written after terminal failure")
	}
	if f.ledger.entries["run-1"].Status != string(domain.JobStatusExpired) {
		t.Fatalf("expected ledger status expired, got %+v", f.ledger.entries["run-1"])
	}
}

func TestRunCompletedWithoutOutput(t *testing.T) {
	f := newPipelineFixture()
	f.service.polls = []pollStep{status(domain.JobStatusCompleted)}

	_, err := f.useCase(defaultSettings()).Run(context.Background())
	if !errors.Is(err, domain.ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
	if len(f.exporter.reports) != 0 {
		t.Fatalf("no report may be written without output")
	}
}

func TestResumeReusesStoredInput(t *testing.T) {
	f := newPipelineFixture()
	f.service.polls = []pollStep{status(domain.JobStatusInProgress)}
	if _, err := f.useCase(defaultSettings()).Run(context.Background()); !errors.Is(err, domain.ErrMonitoringAbandoned) {
		t.Fatalf("expected ErrMonitoringAbandoned, got %v", err)
	}
	if !f.ledger.entries["run-1"].Active() {
		t.Fatalf("abandoned job must stay active in ledger")
	}

	completed := status(domain.JobStatusCompleted)
	completed.handle.OutputRef = "file-out"
	f.service.polls = []pollStep{completed}
	f.service.pollCalls = 0

	result, err := f.useCase(defaultSettings()).Resume(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if f.service.created != 1 {
		t.Fatalf("resume must not create a new job, created=%d", f.service.created)
	}
	if result.Summary.Submitted != 2 || result.Summary.MissingResults != 1 {
		t.Fatalf("unexpected resume summary %+v", result.Summary)
	}
	if got := f.exporter.reports[0].Detail[0].OriginalText; got != "msg1 || msg2" {
		t.Fatalf("unexpected original text after resume %q", got)
	}
}

func TestResumeUnknownJob(t *testing.T) {
	f := newPipelineFixture()
	_, err := f.useCase(defaultSettings()).Resume(context.Background(), "batch-unknown")
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestRepeatedRunsWithLookbackMoveTheWindow(t *testing.T) {
	f := newPipelineFixture()
	settings := defaultSettings()
	settings.Window.Start = "-24h"

	uc := f.useCase(settings)
	now := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	runs := 0
	uc.deps.Now = func() time.Time { return now }
	uc.deps.NewRunID = func() string { runs++; return fmt.Sprintf("run-%d", runs) }

	if _, err := uc.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	now = now.Add(24 * time.Hour)
	if _, err := uc.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if len(f.source.windows) != 2 {
		t.Fatalf("expected two extractions, got %d", len(f.source.windows))
	}
	first, second := f.source.windows[0].Start, f.source.windows[1].Start
	if first != "2026-10-18 06:00:00" || second != "2026-10-19 06:00:00" {
		t.Fatalf("expected consecutive daily windows, got %q then %q", first, second)
	}
	if f.ledger.entries["run-2"].StartTime != second {
		t.Fatalf("ledger must record the resolved start, got %+v", f.ledger.entries["run-2"])
	}
}

func TestRunRejectsMalformedLookback(t *testing.T) {
	f := newPipelineFixture()
	settings := defaultSettings()
	settings.Window.Start = "-yesterday"

	_, err := f.useCase(settings).Run(context.Background())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(f.source.windows) != 0 {
		t.Fatalf("source must not be queried with a bad window")
	}
}

func TestSubmittedBytesMatchStoredArtifact(t *testing.T) {
	f := newPipelineFixture()

	if _, err := f.useCase(defaultSettings()).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	stored := f.storage.blobs["batch_input_20261019_run-1.jsonl"]
	if len(stored) == 0 || string(stored) != string(f.service.uploaded) {
		t.Fatalf("uploaded bytes differ from the stored batch input")
	}
}
