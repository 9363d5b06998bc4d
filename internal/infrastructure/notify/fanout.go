package notify

import (
	"context"
	"errors"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/core/ports"
)

// Fanout delivers a run outcome to every notifier and joins their errors.
type Fanout []ports.Notifier

func (f Fanout) NotifyRun(ctx context.Context, summary domain.RunSummary, reportPath string, runErr error) error {
	var errs []error
	for _, n := range f {
		if err := n.NotifyRun(ctx, summary, reportPath, runErr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
