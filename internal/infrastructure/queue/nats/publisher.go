package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/infrastructure/resilience"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// RunEvent is published once per finished run.
type RunEvent struct {
	Outcome    string            `json:"outcome"`
	Error      string            `json:"error,omitempty"`
	ReportPath string            `json:"report_path,omitempty"`
	Summary    domain.RunSummary `json:"summary"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type Options struct {
	ConnectTimeout     time.Duration
	ReconnectWait      time.Duration
	MaxReconnects      int
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

// Publisher announces run outcomes on a NATS subject for downstream consumers.
type Publisher struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	now      func() time.Time
}

func New(url, subject string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("conversation-insights"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		_ = p.conn.FlushTimeout(5 * time.Second)
		p.conn.Close()
	}
}

func (p *Publisher) NotifyRun(ctx context.Context, summary domain.RunSummary, reportPath string, runErr error) error {
	payload, err := json.Marshal(buildEvent(summary, reportPath, runErr, p.now()))
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	if isMisconfigured(err) {
		return domain.WrapError(domain.ErrConfiguration, "publish run event to "+p.subject, err)
	}
	return err
}

// isMisconfigured reports publish failures that no retry can fix: the
// subject or the event size is rejected by the client itself.
func isMisconfigured(err error) bool {
	return errors.Is(err, nats.ErrBadSubject) || errors.Is(err, nats.ErrMaxPayload)
}

// classifyPublishError retries while the connection is down or reconnecting.
// Misconfiguration and cancellation neither retry nor count against the
// breaker.
func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), isMisconfigured(err):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
}

func buildEvent(summary domain.RunSummary, reportPath string, runErr error, at time.Time) RunEvent {
	event := RunEvent{
		Outcome:    OutcomeSucceeded,
		ReportPath: reportPath,
		Summary:    summary,
		OccurredAt: at,
	}
	if runErr != nil {
		event.Outcome = OutcomeFailed
		event.Error = runErr.Error()
		event.ReportPath = ""
	}
	return event
}
