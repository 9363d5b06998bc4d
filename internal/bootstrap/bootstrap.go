package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	httpadapter "github.com/kirillkom/conversation-insights/internal/adapters/http"
	"github.com/kirillkom/conversation-insights/internal/config"
	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/core/ports"
	"github.com/kirillkom/conversation-insights/internal/core/usecase"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/batch/openai"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/notify"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/notify/slack"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/queue/nats"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/report/excel"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/resilience"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/conversation-insights/internal/observability/metrics"
)

type Options struct {
	AllowDuplicate bool
	// SkipSource leaves the message store closed; resumed jobs read their
	// input from the ledger.
	SkipSource bool
}

type App struct {
	Config  config.Config
	Profile domain.Profile
	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics
	Runner  ports.ClassificationRunner

	closers []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	profile, err := config.LoadProfile(cfg.ClassifierProfile, cfg.OpenAIModel)
	if err != nil {
		return nil, err
	}
	app.Profile = profile

	var source ports.ConversationSource
	if !opts.SkipSource {
		var db *sql.DB
		db, err = postgres.OpenDB(ctx, cfg.DSN())
		if err != nil {
			return nil, domain.WrapError(domain.ErrExtraction, "open message store", err)
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
		source = postgres.NewConversationSource(db, cfg.MessageTable)
	}

	storage, err := localfs.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init artifact storage: %w", err)
	}
	ledger, err := sqlite.Open(ctx, cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open job ledger: %w", err)
	}
	app.closers = append(app.closers, func() { _ = ledger.Close() })

	exporter, err := excel.NewExporter(cfg.ReportDir)
	if err != nil {
		return nil, fmt.Errorf("init report exporter: %w", err)
	}

	pipelineMetrics := metrics.NewPipelineMetrics("classifier")
	app.Metrics = pipelineMetrics

	client := openai.New(openai.Options{
		APIKey:           cfg.OpenAIAPIKey,
		BaseURL:          cfg.OpenAIBaseURL,
		CompletionWindow: cfg.CompletionWindow,
		RequestsPerSec:   cfg.OpenAIRPS,
		Timeout:          cfg.OpenAITimeout(),
		Transport:        pipelineMetrics.InstrumentTransport(nil),
	})

	resilienceCfg := resilience.DefaultConfig()
	resilienceCfg.RetryMaxAttempts = cfg.DownloadRetryAttempts
	executor := resilience.NewExecutor(resilienceCfg, logger)

	notifier, err := app.notifiers(cfg, executor)
	if err != nil {
		return nil, err
	}

	deps := usecase.PipelineDeps{
		Source:    source,
		Storage:   storage,
		Ledger:    ledger,
		Exporter:  exporter,
		Notifier:  notifier,
		Observer:  pipelineMetrics,
		Submitter: usecase.NewSubmitter(client, logger),
		Monitor: usecase.NewJobMonitor(client, resilience.PollPolicy{
			MaxAttempts: cfg.PollMaxAttempts,
			Interval:    cfg.PollInterval(),
			Multiplier:  cfg.PollMultiplier,
		}, resilience.RealClock(), pipelineMetrics, logger),
		Fetcher: usecase.NewFetcher(client, storage, executor, logger),
		Logger:  logger,
	}
	app.Runner = usecase.NewClassifyConversationsUseCase(deps, usecase.PipelineSettings{
		Profile: profile,
		Window: domain.ExtractionWindow{
			SourceID: cfg.SourceID,
			Start:    cfg.StartTime,
			Limit:    uint64(max(cfg.ExtractLimit, 0)),
		},
		AllowDuplicate: opts.AllowDuplicate,
	})

	if cfg.MetricsPort != "" {
		router := httpadapter.NewRouter(ledger, pipelineMetrics.Handler(), logger)
		app.serveOps(net.JoinHostPort("", cfg.MetricsPort), router.Handler())
	}
	return app, nil
}

func (a *App) notifiers(cfg config.Config, executor *resilience.Executor) (ports.Notifier, error) {
	var fanout notify.Fanout
	if cfg.SlackWebhookURL != "" {
		fanout = append(fanout, slack.NewNotifier(cfg.SlackWebhookURL))
	}
	if cfg.NATSURL != "" {
		publisher, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init run event publisher: %w", err)
		}
		a.closers = append(a.closers, publisher.Close)
		fanout = append(fanout, publisher)
	}
	if len(fanout) == 0 {
		return nil, nil
	}
	return fanout, nil
}

// serveOps exposes health, metrics and run history while the process lives.
func (a *App) serveOps(addr string, handler http.Handler) {
	server := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info("ops_listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("ops_server_failed", "error", err)
		}
	}()
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
