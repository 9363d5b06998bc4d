package usecase

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

const (
	batchMethod   = "POST"
	batchEndpoint = "/v1/chat/completions"
)

type EncodeStats struct {
	Encoded    int
	Skipped    int
	Duplicates int
}

// Encoder turns conversation groups into batch request lines.
type Encoder struct {
	profile domain.Profile
	logger  *slog.Logger
}

func NewEncoder(profile domain.Profile, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{profile: profile, logger: logger}
}

func (e *Encoder) Encode(group domain.ConversationGroup) (domain.RequestUnit, error) {
	id := strings.TrimSpace(group.ConversationID)
	if id == "" {
		return domain.RequestUnit{}, domain.WrapError(domain.ErrEncoding, "encode conversation", errors.New("empty conversation id"))
	}
	messages := strings.TrimSpace(group.Messages)
	if messages == "" {
		return domain.RequestUnit{}, domain.WrapError(domain.ErrEncoding, "encode conversation "+id, errors.New("empty messages"))
	}

	return domain.RequestUnit{
		CorrelationID: domain.EncodeCorrelationID(id),
		Method:        batchMethod,
		URL:           batchEndpoint,
		Body: domain.ChatRequest{
			Model: e.profile.Model,
			Messages: []domain.ChatMessage{
				{Role: "system", Content: e.profile.SystemPrompt},
				{Role: "user", Content: e.profile.UserPrefix + messages},
			},
			Temperature: 0,
		},
	}, nil
}

// EncodeAll encodes every group, skipping malformed rows and repeated
// conversation ids so correlation ids stay unique within the batch.
func (e *Encoder) EncodeAll(groups []domain.ConversationGroup) ([]domain.RequestUnit, EncodeStats) {
	units := make([]domain.RequestUnit, 0, len(groups))
	seen := make(map[string]struct{}, len(groups))
	var stats EncodeStats

	for _, group := range groups {
		unit, err := e.Encode(group)
		if err != nil {
			stats.Skipped++
			e.logger.Warn("encode_skipped", "conversation_id", group.ConversationID, "error", err)
			continue
		}
		if _, dup := seen[unit.CorrelationID]; dup {
			stats.Duplicates++
			e.logger.Warn("encode_duplicate", "correlation_id", unit.CorrelationID)
			continue
		}
		seen[unit.CorrelationID] = struct{}{}
		units = append(units, unit)
	}
	stats.Encoded = len(units)

	if stats.Skipped > 0 || stats.Duplicates > 0 {
		e.logger.Info("encode_summary", "encoded", stats.Encoded, "skipped", stats.Skipped, "duplicates", stats.Duplicates)
	}
	return units, stats
}

// GroupsFromUnits rebuilds conversation groups from a stored batch input,
// used when resuming a job submitted by an earlier run.
func GroupsFromUnits(units []domain.RequestUnit, userPrefix string) []domain.ConversationGroup {
	groups := make([]domain.ConversationGroup, 0, len(units))
	for _, unit := range units {
		id, ok := domain.DecodeCorrelationID(unit.CorrelationID)
		if !ok {
			continue
		}
		groups = append(groups, domain.ConversationGroup{
			ConversationID: id,
			Messages:       strings.TrimPrefix(unit.UserContent(), userPrefix),
		})
	}
	return groups
}
