package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

type outputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage struct {
				TotalTokens int `json:"total_tokens"`
			} `json:"usage"`
		} `json:"body"`
	} `json:"response"`
	Error json.RawMessage `json:"error"`
}

type ParseResult struct {
	// Records holds one entry per conversation group, in input order.
	Records           []domain.ClassifiedRecord
	ResultLines       int
	ParseErrors       int
	FailedItems       int
	MissingResults    int
	UnknownCorrelated int
	TotalTokens       int
}

// Parser joins raw batch output back onto the submitted conversations.
type Parser struct {
	extractor *LabelExtractor
	logger    *slog.Logger
}

func NewParser(rules []domain.LabelRule, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{extractor: NewLabelExtractor(rules), logger: logger}
}

// DecodeResult decodes one output line. Items the provider reported as
// failed come back with ok=false and a nil error so their tokens still count.
func DecodeResult(line []byte) (record domain.ResultRecord, ok bool, err error) {
	var item outputLine
	if err := json.Unmarshal(line, &item); err != nil {
		return domain.ResultRecord{}, false, domain.WrapError(domain.ErrParse, "decode result line", err)
	}
	if strings.TrimSpace(item.CustomID) == "" {
		return domain.ResultRecord{}, false, domain.WrapError(domain.ErrParse, "decode result line", errors.New("missing custom_id"))
	}
	record.CorrelationID = item.CustomID
	if item.Response == nil {
		return record, false, nil
	}
	record.TokenCount = max(item.Response.Body.Usage.TotalTokens, 0)
	if hasProviderError(item.Error) || (item.Response.StatusCode != 0 && item.Response.StatusCode >= 300) {
		return record, false, nil
	}
	if len(item.Response.Body.Choices) > 0 {
		record.Text = item.Response.Body.Choices[0].Message.Content
	}
	return record, true, nil
}

func hasProviderError(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Classify extracts labels from one result.
func (p *Parser) Classify(result domain.ResultRecord) (subjects []string, auxiliary string) {
	values := p.extractor.Extract(result.Text)
	return SplitLabels(values[domain.FieldSubjects]), strings.TrimSpace(values[domain.FieldAuxiliary])
}

// Parse never fails as a whole: bad lines and unmatched ids are counted and
// skipped.
func (p *Parser) Parse(raw []byte, groups []domain.ConversationGroup) ParseResult {
	var res ParseResult
	results := make(map[string]domain.ResultRecord, len(groups))

	scanner := newLineScanner(bytes.NewReader(raw))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		res.ResultLines++

		record, ok, err := DecodeResult(line)
		if err != nil {
			res.ParseErrors++
			p.logger.Warn("result_line_skipped", "line", lineNo, "error", err)
			continue
		}
		res.TotalTokens += record.TokenCount
		if !ok {
			res.FailedItems++
			p.logger.Warn("result_item_failed", "line", lineNo, "correlation_id", record.CorrelationID)
			continue
		}
		if _, dup := results[record.CorrelationID]; dup {
			res.ParseErrors++
			p.logger.Warn("result_duplicate", "line", lineNo, "correlation_id", record.CorrelationID)
			continue
		}
		results[record.CorrelationID] = record
	}
	if err := scanner.Err(); err != nil {
		res.ParseErrors++
		p.logger.Error("result_scan_aborted", "line", lineNo, "error", err)
	}

	res.Records = make([]domain.ClassifiedRecord, 0, len(groups))
	known := make(map[string]struct{}, len(groups))
	for _, group := range groups {
		correlationID := domain.EncodeCorrelationID(group.ConversationID)
		known[correlationID] = struct{}{}

		record := domain.ClassifiedRecord{
			CorrelationID:  correlationID,
			ConversationID: group.ConversationID,
			OriginalText:   group.Messages,
			Subjects:       []string{},
		}
		result, found := results[correlationID]
		if !found {
			res.MissingResults++
			p.logger.Warn("join_mismatch", "kind", "missing_result", "correlation_id", correlationID)
			res.Records = append(res.Records, record)
			continue
		}
		record.HasResult = true
		record.TokenCount = result.TokenCount
		record.Subjects, record.Auxiliary = p.Classify(result)
		res.Records = append(res.Records, record)
	}

	for correlationID := range results {
		if _, ok := known[correlationID]; ok {
			continue
		}
		res.UnknownCorrelated++
		p.logger.Warn("join_mismatch", "kind", "unknown_correlation_id", "correlation_id", correlationID)
	}

	if res.MissingResults > 0 || res.UnknownCorrelated > 0 {
		p.logger.Warn("join_summary",
			"error", domain.ErrJoinMismatch,
			"missing_results", res.MissingResults,
			"unknown_correlated", res.UnknownCorrelated,
		)
	}
	return res
}
