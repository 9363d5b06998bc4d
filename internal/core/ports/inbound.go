package ports

import (
	"context"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

// ClassificationRunner is the inbound contract for one pipeline run.
type ClassificationRunner interface {
	Run(ctx context.Context) (*RunResult, error)
	Resume(ctx context.Context, jobID string) (*RunResult, error)
}

type RunResult struct {
	Summary    domain.RunSummary
	ReportPath string
}
