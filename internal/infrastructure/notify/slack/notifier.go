package slack

import (
	"context"
	"fmt"
	"strconv"

	"github.com/slack-go/slack"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

const (
	colorSuccess = "good"
	colorWarning = "warning"
	colorFailure = "danger"
)

// Notifier posts run outcomes to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{webhookURL: webhookURL, post: slack.PostWebhookContext}
}

func (n *Notifier) NotifyRun(ctx context.Context, summary domain.RunSummary, reportPath string, runErr error) error {
	if err := n.post(ctx, n.webhookURL, buildMessage(summary, reportPath, runErr)); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}

func buildMessage(summary domain.RunSummary, reportPath string, runErr error) *slack.WebhookMessage {
	attachment := slack.Attachment{
		Color: colorSuccess,
		Title: fmt.Sprintf("Classificação %s concluída", summary.Profile),
		Fields: []slack.AttachmentField{
			{Title: "Job", Value: valueOrDash(summary.JobID), Short: true},
			{Title: "Conversas", Value: strconv.Itoa(summary.Extracted), Short: true},
			{Title: "Sem resultado", Value: strconv.Itoa(summary.MissingResults), Short: true},
			{Title: "Falhas", Value: strconv.Itoa(summary.FailedItems + summary.ParseErrors), Short: true},
			{Title: "Tokens", Value: strconv.Itoa(summary.TotalTokens), Short: true},
		},
		Footer: "run " + summary.RunID,
	}

	switch {
	case runErr != nil:
		attachment.Color = colorFailure
		attachment.Title = fmt.Sprintf("Classificação %s falhou", summary.Profile)
		attachment.Text = runErr.Error()
	case summary.MissingResults > 0 || summary.UnknownCorrelated > 0 || summary.FailedItems > 0:
		attachment.Color = colorWarning
	}
	if reportPath != "" {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{Title: "Relatório", Value: reportPath})
	}

	return &slack.WebhookMessage{
		Text:        attachment.Title,
		Attachments: []slack.Attachment{attachment},
	}
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
