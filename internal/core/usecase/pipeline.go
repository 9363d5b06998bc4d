package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/core/ports"
)

const (
	StageExtract = "extract"
	StageSubmit  = "submit"
	StageMonitor = "monitor"
	StageFetch   = "fetch"
	StageParse   = "parse"
	StageExport  = "export"
)

type PipelineSettings struct {
	Profile        domain.Profile
	Window         domain.ExtractionWindow
	AllowDuplicate bool
}

type PipelineDeps struct {
	Source    ports.ConversationSource
	Storage   ports.ArtifactStorage
	Ledger    ports.JobLedger
	Exporter  ports.ReportExporter
	Notifier  ports.Notifier
	Observer  ports.PipelineObserver
	Submitter *Submitter
	Monitor   *JobMonitor
	Fetcher   *Fetcher
	Logger    *slog.Logger

	NewRunID func() string
	Now      func() time.Time
}

// ClassifyConversationsUseCase runs extraction, submission, monitoring,
// fetching, parsing and export strictly in sequence.
type ClassifyConversationsUseCase struct {
	deps     PipelineDeps
	settings PipelineSettings
	encoder  *Encoder
	parser   *Parser
	logger   *slog.Logger
}

func NewClassifyConversationsUseCase(deps PipelineDeps, settings PipelineSettings) *ClassifyConversationsUseCase {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ClassifyConversationsUseCase{
		deps:     deps,
		settings: settings,
		encoder:  NewEncoder(settings.Profile, deps.Logger),
		parser:   NewParser(settings.Profile.Rules, deps.Logger),
		logger:   deps.Logger.With("profile", settings.Profile.Name),
	}
}

func (uc *ClassifyConversationsUseCase) Run(ctx context.Context) (*ports.RunResult, error) {
	summary := domain.RunSummary{RunID: uc.deps.NewRunID(), Profile: uc.settings.Profile.Name}
	result, err := uc.run(ctx, &summary)
	uc.notify(ctx, summary, result, err)
	return result, err
}

func (uc *ClassifyConversationsUseCase) Resume(ctx context.Context, jobID string) (*ports.RunResult, error) {
	summary := domain.RunSummary{RunID: uc.deps.NewRunID(), Profile: uc.settings.Profile.Name, JobID: jobID}
	result, err := uc.resume(ctx, &summary, jobID)
	uc.notify(ctx, summary, result, err)
	return result, err
}

func (uc *ClassifyConversationsUseCase) run(ctx context.Context, summary *domain.RunSummary) (*ports.RunResult, error) {
	logger := uc.logger.With("run_id", summary.RunID)

	window, err := uc.settings.Window.Resolve(uc.deps.Now())
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "resolve extraction window", err)
	}

	groups, err := uc.extract(ctx, window)
	if err != nil {
		return nil, err
	}
	summary.Extracted = len(groups)

	units, stats := uc.encoder.EncodeAll(groups)
	summary.EncodeSkipped = stats.Skipped + stats.Duplicates
	if len(units) == 0 {
		logger.Info("nothing_to_submit", "extracted", len(groups))
		return &ports.RunResult{Summary: *summary}, domain.ErrNothingToSubmit
	}

	if err := uc.guardActiveJob(ctx); err != nil {
		return nil, err
	}

	handle, err := uc.submit(ctx, summary, window, units)
	if err != nil {
		return nil, err
	}
	return uc.complete(ctx, summary, handle.JobID, GroupsFromUnits(units, uc.settings.Profile.UserPrefix))
}

func (uc *ClassifyConversationsUseCase) resume(ctx context.Context, summary *domain.RunSummary, jobID string) (*ports.RunResult, error) {
	entry, err := uc.deps.Ledger.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("lookup job %s in ledger: %w", jobID, err)
	}
	if entry == nil || entry.InputKey == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "resume job "+jobID, errors.New("job is not recorded in the ledger"))
	}

	reader, err := uc.deps.Storage.Open(ctx, entry.InputKey)
	if err != nil {
		return nil, fmt.Errorf("open batch input %s: %w", entry.InputKey, err)
	}
	defer reader.Close()

	units, skipped, err := DecodeJSONL(reader)
	if err != nil {
		return nil, err
	}
	summary.EncodeSkipped = skipped
	summary.Extracted = len(units) + skipped
	summary.Submitted = len(units)
	uc.logger.Info("resume_job", "run_id", summary.RunID, "job_id", jobID, "units", len(units), "original_run_id", entry.RunID)

	return uc.complete(ctx, summary, jobID, GroupsFromUnits(units, uc.settings.Profile.UserPrefix))
}

func (uc *ClassifyConversationsUseCase) extract(ctx context.Context, window domain.ExtractionWindow) ([]domain.ConversationGroup, error) {
	started := time.Now()
	groups, err := uc.deps.Source.ListConversations(ctx, window)
	uc.observeStage(StageExtract, started, err)
	if err != nil {
		if domain.IsKind(err, domain.ErrExtraction) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrExtraction, "list conversations", err)
	}
	uc.logger.Info("conversations_extracted", "count", len(groups), "source_id", window.SourceID, "start", window.Start)
	return groups, nil
}

func (uc *ClassifyConversationsUseCase) guardActiveJob(ctx context.Context) error {
	active, err := uc.deps.Ledger.FindActive(ctx, uc.settings.Profile.Name, uc.settings.Window.SourceID)
	if err != nil {
		return fmt.Errorf("check ledger for active jobs: %w", err)
	}
	if active == nil {
		return nil
	}
	if uc.settings.AllowDuplicate {
		uc.logger.Warn("duplicate_submission_allowed", "active_run_id", active.RunID, "active_job_id", active.JobID, "status", active.Status)
		return nil
	}
	ref := active.JobID
	if ref == "" {
		ref = "file " + active.FileID
	}
	return domain.WrapError(domain.ErrActiveJobExists, "submit batch",
		fmt.Errorf("run %s (%s) is still %s; resume it or pass --allow-duplicate", active.RunID, ref, active.Status))
}

func (uc *ClassifyConversationsUseCase) submit(ctx context.Context, summary *domain.RunSummary, window domain.ExtractionWindow, units []domain.RequestUnit) (domain.JobHandle, error) {
	started := time.Now()
	payload, err := EncodeJSONL(units)
	if err != nil {
		return domain.JobHandle{}, domain.WrapError(domain.ErrSubmission, "serialize batch input", err)
	}
	inputKey := fmt.Sprintf("batch_input_%s_%s.jsonl", uc.deps.Now().Format("20060102"), summary.RunID)
	if err := uc.deps.Storage.Save(ctx, inputKey, bytes.NewReader(payload)); err != nil {
		return domain.JobHandle{}, domain.WrapError(domain.ErrSubmission, "store batch input", err)
	}

	if err := uc.deps.Ledger.Begin(ctx, domain.LedgerEntry{
		RunID:     summary.RunID,
		Profile:   uc.settings.Profile.Name,
		SourceID:  window.SourceID,
		StartTime: window.Start,
		InputKey:  inputKey,
		Status:    domain.LedgerSubmitting,
	}); err != nil {
		return domain.JobHandle{}, domain.WrapError(domain.ErrSubmission, "record run in ledger", err)
	}

	submission, err := uc.deps.Submitter.Submit(ctx, inputKey, payload, len(units))
	uc.observeStage(StageSubmit, started, err)
	if submission.FileID != "" {
		uc.ledgerErr(uc.deps.Ledger.RecordUpload(ctx, summary.RunID, submission.FileID))
	}
	if err != nil {
		status := domain.LedgerUploadFailed
		if submission.FileID != "" {
			status = domain.LedgerSubmissionUnknown
		}
		uc.ledgerErr(uc.deps.Ledger.Fail(ctx, summary.RunID, status, err.Error()))
		return domain.JobHandle{}, err
	}
	uc.ledgerErr(uc.deps.Ledger.RecordJob(ctx, summary.RunID, submission.Handle))

	summary.Submitted = len(units)
	summary.JobID = submission.Handle.JobID
	return submission.Handle, nil
}

// complete observes the job and turns its output into the report.
func (uc *ClassifyConversationsUseCase) complete(ctx context.Context, summary *domain.RunSummary, jobID string, groups []domain.ConversationGroup) (*ports.RunResult, error) {
	logger := uc.logger.With("run_id", summary.RunID, "job_id", jobID)

	started := time.Now()
	handle, err := uc.deps.Monitor.Wait(ctx, jobID)
	uc.observeStage(StageMonitor, started, err)
	if err != nil {
		var jobErr *domain.JobError
		if errors.As(err, &jobErr) {
			uc.ledgerErr(uc.deps.Ledger.UpdateStatus(ctx, jobID, handle.Status, jobErr.Kind.Error()))
		}
		return nil, err
	}
	uc.ledgerErr(uc.deps.Ledger.UpdateStatus(ctx, jobID, handle.Status, ""))
	logger.Info("job_completed", "total", handle.Counts.Total, "completed", handle.Counts.Completed, "failed", handle.Counts.Failed)

	started = time.Now()
	fetched, err := uc.deps.Fetcher.Fetch(ctx, handle, fmt.Sprintf("batch_output_%s.jsonl", jobID))
	uc.observeStage(StageFetch, started, err)
	if err != nil {
		return nil, err
	}

	started = time.Now()
	parsed := uc.parser.Parse(fetched.Output, groups)
	uc.observeStage(StageParse, started, nil)

	summary.ResultLines = parsed.ResultLines
	summary.ParseErrors = parsed.ParseErrors
	summary.FailedItems = parsed.FailedItems + fetched.FailedItems
	summary.MissingResults = parsed.MissingResults
	summary.UnknownCorrelated = parsed.UnknownCorrelated
	summary.TotalTokens = parsed.TotalTokens

	report := uc.buildReport(parsed, *summary)

	started = time.Now()
	path, err := uc.deps.Exporter.Export(ctx, report)
	uc.observeStage(StageExport, started, err)
	if err != nil {
		return nil, fmt.Errorf("export report: %w", err)
	}
	if uc.deps.Observer != nil {
		uc.deps.Observer.ObserveSummary(*summary)
	}
	logger.Info("report_written",
		"path", path,
		"records", len(parsed.Records),
		"parse_errors", summary.ParseErrors,
		"failed_items", summary.FailedItems,
		"missing_results", summary.MissingResults,
		"unknown_correlated", summary.UnknownCorrelated,
		"total_tokens", summary.TotalTokens,
	)
	return &ports.RunResult{Summary: *summary, ReportPath: path}, nil
}

func (uc *ClassifyConversationsUseCase) buildReport(parsed ParseResult, summary domain.RunSummary) domain.Report {
	profile := uc.settings.Profile
	report := domain.Report{
		Profile:  profile.Name,
		Detail:   parsed.Records,
		Subjects: AggregateSubjects(parsed.Records, parsed.TotalTokens),
		Summary:  summary,
	}
	if profile.HasDimension() {
		table := AggregateByDimension(parsed.Records, profile.Dimension, parsed.TotalTokens)
		report.Dimensions = &table
		report.PerUnit = SummarizeDimensions(parsed.Records, profile.Dimension)
		report.DimensionFallback = profile.Dimension
	}
	return report
}

func (uc *ClassifyConversationsUseCase) notify(ctx context.Context, summary domain.RunSummary, result *ports.RunResult, runErr error) {
	if uc.deps.Notifier == nil {
		return
	}
	path := ""
	if result != nil {
		summary = result.Summary
		path = result.ReportPath
	}
	if errors.Is(runErr, domain.ErrNothingToSubmit) {
		runErr = nil
	}
	if err := uc.deps.Notifier.NotifyRun(ctx, summary, path, runErr); err != nil {
		uc.logger.Warn("notify_failed", "run_id", summary.RunID, "error", err)
	}
}

func (uc *ClassifyConversationsUseCase) observeStage(stage string, started time.Time, err error) {
	if uc.deps.Observer != nil {
		uc.deps.Observer.ObserveStage(stage, time.Since(started).Seconds(), err)
	}
}

func (uc *ClassifyConversationsUseCase) ledgerErr(err error) {
	if err != nil {
		uc.logger.Error("ledger_write_failed", "error", err)
	}
}
