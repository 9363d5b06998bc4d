package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

const expectedQuery = `SELECT "leadId", STRING_AGG(message, ' || ') AS mensagens FROM ideia_message_db WHERE "clientId" = $1 AND "createdAt" >= $2 GROUP BY "leadId"`

func newSourceWithMock(t *testing.T) (*ConversationSource, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewConversationSource(db, "ideia_message_db"), mock, func() { _ = db.Close() }
}

func TestListConversationsReturnsGroupedRows(t *testing.T) {
	source, mock, done := newSourceWithMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(expectedQuery)).
		WithArgs("client-1", "2025-02-09 00:00:00").
		WillReturnRows(sqlmock.NewRows([]string{"leadId", "mensagens"}).
			AddRow("A", "msg1 || msg2").
			AddRow("B", " msg3 ").
			AddRow("C", nil))

	groups, err := source.ListConversations(context.Background(), domain.ExtractionWindow{SourceID: "client-1", Start: "2025-02-09 00:00:00"})
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(groups) != 3 || groups[0].Messages != "msg1 || msg2" || groups[1].Messages != "msg3" || groups[2].Messages != "" {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListConversationsAppliesLimit(t *testing.T) {
	source, mock, done := newSourceWithMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(expectedQuery + " LIMIT 3")).
		WithArgs("client-1", "2025-02-09").
		WillReturnRows(sqlmock.NewRows([]string{"leadId", "mensagens"}))

	groups, err := source.ListConversations(context.Background(), domain.ExtractionWindow{SourceID: "client-1", Start: "2025-02-09", Limit: 3})
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected empty result, got %+v", groups)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListConversationsWrapsQueryErrors(t *testing.T) {
	source, mock, done := newSourceWithMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(expectedQuery)).
		WillReturnError(errors.New("connection refused"))

	_, err := source.ListConversations(context.Background(), domain.ExtractionWindow{SourceID: "client-1", Start: "2025-02-09"})
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestListConversationsRequiresWindow(t *testing.T) {
	source, _, done := newSourceWithMock(t)
	defer done()

	_, err := source.ListConversations(context.Background(), domain.ExtractionWindow{SourceID: "client-1"})
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestListConversationsKeepsRowsWithoutLead(t *testing.T) {
	source, mock, done := newSourceWithMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(expectedQuery)).
		WithArgs("client-1", "2025-02-09").
		WillReturnRows(sqlmock.NewRows([]string{"leadId", "mensagens"}).
			AddRow("A", "msg1").
			AddRow(nil, "orphan messages").
			AddRow("B", "msg2"))

	groups, err := source.ListConversations(context.Background(), domain.ExtractionWindow{SourceID: "client-1", Start: "2025-02-09"})
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(groups) != 3 || groups[0].ConversationID != "A" || groups[1].ConversationID != "" || groups[2].ConversationID != "B" {
		t.Fatalf("unexpected groups %+v", groups)
	}
}
