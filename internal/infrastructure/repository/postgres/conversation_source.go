package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

const messageSeparator = " || "

// ConversationSource reads conversations grouped per lead from the message
// table. Grouping and concatenation happen in the query.
type ConversationSource struct {
	db    *sql.DB
	table string
}

func NewConversationSource(db *sql.DB, table string) *ConversationSource {
	return &ConversationSource{db: db, table: table}
}

func (s *ConversationSource) buildQuery(window domain.ExtractionWindow) (string, []any, error) {
	query := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(`"leadId"`, fmt.Sprintf(`STRING_AGG(message, '%s') AS mensagens`, messageSeparator)).
		From(s.table).
		Where(sq.Eq{`"clientId"`: window.SourceID}).
		Where(sq.GtOrEq{`"createdAt"`: window.Start}).
		GroupBy(`"leadId"`)
	if window.Limit > 0 {
		query = query.Limit(window.Limit)
	}
	return query.ToSql()
}

func (s *ConversationSource) ListConversations(ctx context.Context, window domain.ExtractionWindow) ([]domain.ConversationGroup, error) {
	if strings.TrimSpace(window.SourceID) == "" || strings.TrimSpace(window.Start) == "" {
		return nil, domain.WrapError(domain.ErrExtraction, "list conversations", errors.New("source id and start time are required"))
	}

	query, args, err := s.buildQuery(window)
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "build conversation query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "query conversations", err)
	}
	defer rows.Close()

	groups := make([]domain.ConversationGroup, 0)
	for rows.Next() {
		var (
			leadID   sql.NullString
			messages sql.NullString
		)
		if err := rows.Scan(&leadID, &messages); err != nil {
			return nil, domain.WrapError(domain.ErrExtraction, "scan conversation row", err)
		}
		// Messages without a lead group under NULL; the empty id makes the
		// encoder skip and count them.
		groups = append(groups, domain.ConversationGroup{
			ConversationID: strings.TrimSpace(leadID.String),
			Messages:       strings.TrimSpace(messages.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "iterate conversation rows", err)
	}
	return groups, nil
}
