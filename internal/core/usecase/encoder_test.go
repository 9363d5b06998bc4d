package usecase

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

func testProfile() domain.Profile {
	return domain.Profile{
		Name:         "vamo",
		Model:        "gpt-4o-mini",
		SystemPrompt: "classify",
		UserPrefix:   "Mensagem do cliente:\n",
		Rules: []domain.LabelRule{
			{Field: domain.FieldSubjects, Prefixes: []string{"assunto:", "assuntos:"}},
			{Field: domain.FieldAuxiliary, Prefixes: []string{"unidade:"}, Match: domain.MatchContains},
		},
		Dimension: "Não Informada",
	}
}

func TestEncodeBuildsDeterministicRequest(t *testing.T) {
	enc := NewEncoder(testProfile(), nil)
	unit, err := enc.Encode(domain.ConversationGroup{ConversationID: "42", Messages: "oi || quero reservar"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if unit.CorrelationID != "id-42" {
		t.Fatalf("unexpected correlation id %q", unit.CorrelationID)
	}
	if unit.Method != "POST" || unit.URL != "/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %s %s", unit.Method, unit.URL)
	}
	if unit.Body.Temperature != 0 || unit.Body.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected body params %+v", unit.Body)
	}
	if len(unit.Body.Messages) != 2 || unit.Body.Messages[0].Role != "system" || unit.Body.Messages[0].Content != "classify" {
		t.Fatalf("unexpected messages %+v", unit.Body.Messages)
	}
	if unit.Body.Messages[1].Content != "Mensagem do cliente:\noi || quero reservar" {
		t.Fatalf("unexpected user content %q", unit.Body.Messages[1].Content)
	}
}

func TestEncodeRejectsEmptyInput(t *testing.T) {
	enc := NewEncoder(testProfile(), nil)
	cases := []domain.ConversationGroup{
		{ConversationID: "", Messages: "hello"},
		{ConversationID: "7", Messages: "   "},
	}
	for _, group := range cases {
		if _, err := enc.Encode(group); !domain.IsKind(err, domain.ErrEncoding) {
			t.Fatalf("Encode(%+v) error = %v, want ErrEncoding", group, err)
		}
	}
}

func TestEncodeAllSkipsBadRowsAndKeepsIDsUnique(t *testing.T) {
	enc := NewEncoder(testProfile(), nil)
	units, stats := enc.EncodeAll([]domain.ConversationGroup{
		{ConversationID: "A", Messages: "msg1 || msg2"},
		{ConversationID: "", Messages: "orphan"},
		{ConversationID: "B", Messages: "msg3"},
		{ConversationID: "A", Messages: "again"},
	})
	if len(units) != 2 || stats.Encoded != 2 || stats.Skipped != 1 || stats.Duplicates != 1 {
		t.Fatalf("unexpected result: units=%d stats=%+v", len(units), stats)
	}
	seen := map[string]bool{}
	for _, unit := range units {
		if seen[unit.CorrelationID] {
			t.Fatalf("duplicate correlation id %s", unit.CorrelationID)
		}
		seen[unit.CorrelationID] = true
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	enc := NewEncoder(testProfile(), nil)
	for _, id := range []string{"A", "id-nested", "8c1e-44", "lead with spaces"} {
		unit, err := enc.Encode(domain.ConversationGroup{ConversationID: id, Messages: "x"})
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", id, err)
		}
		got, ok := domain.DecodeCorrelationID(unit.CorrelationID)
		if !ok || got != id {
			t.Fatalf("DecodeCorrelationID(%q) = %q, %v; want %q", unit.CorrelationID, got, ok, id)
		}
	}
	if _, ok := domain.DecodeCorrelationID("req-1"); ok {
		t.Fatalf("expected foreign id to be rejected")
	}
}

func TestJSONLRoundTripRebuildsGroups(t *testing.T) {
	profile := testProfile()
	enc := NewEncoder(profile, nil)
	units, _ := enc.EncodeAll([]domain.ConversationGroup{
		{ConversationID: "A", Messages: "msg1 <b> || msg2"},
		{ConversationID: "B", Messages: "msg3"},
	})

	payload, err := EncodeJSONL(units)
	if err != nil {
		t.Fatalf("EncodeJSONL() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "<b>") {
		t.Fatalf("expected unescaped html in %s", lines[0])
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line is not json: %v", err)
	}
	if first["custom_id"] != "id-A" || first["url"] != "/v1/chat/completions" {
		t.Fatalf("unexpected line %v", first)
	}

	decoded, skipped, err := DecodeJSONL(bytes.NewReader(append(payload, []byte("not json\n")...)))
	if err != nil {
		t.Fatalf("DecodeJSONL() error = %v", err)
	}
	if skipped != 1 || len(decoded) != 2 {
		t.Fatalf("expected 2 units and 1 skipped, got %d/%d", len(decoded), skipped)
	}
	groups := GroupsFromUnits(decoded, profile.UserPrefix)
	if groups[0].ConversationID != "A" || groups[0].Messages != "msg1 <b> || msg2" || groups[1].ConversationID != "B" {
		t.Fatalf("unexpected groups %+v", groups)
	}
}
