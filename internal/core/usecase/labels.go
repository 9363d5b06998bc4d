package usecase

import (
	"strings"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

// DefaultLabelRules recognises the subject line only.
func DefaultLabelRules() []domain.LabelRule {
	return []domain.LabelRule{
		{Field: domain.FieldSubjects, Prefixes: []string{"assuntos:", "assunto:"}, Match: domain.MatchPrefix},
	}
}

// LabelExtractor applies a marker rule table to free-text responses.
type LabelExtractor struct {
	rules []domain.LabelRule
}

func NewLabelExtractor(rules []domain.LabelRule) *LabelExtractor {
	if len(rules) == 0 {
		rules = DefaultLabelRules()
	}
	normalized := make([]domain.LabelRule, 0, len(rules))
	for _, rule := range rules {
		out := domain.LabelRule{Field: rule.Field, Match: strings.ToLower(strings.TrimSpace(rule.Match))}
		if out.Match == "" {
			out.Match = domain.MatchPrefix
		}
		for _, prefix := range rule.Prefixes {
			prefix = strings.ToLower(strings.TrimSpace(prefix))
			if prefix != "" {
				out.Prefixes = append(out.Prefixes, prefix)
			}
		}
		if out.Field != "" && len(out.Prefixes) > 0 {
			normalized = append(normalized, out)
		}
	}
	return &LabelExtractor{rules: normalized}
}

// Extract returns the raw value per field. When several lines match the
// same field the last one wins; fields without a match are absent.
func (x *LabelExtractor) Extract(text string) map[string]string {
	values := make(map[string]string, len(x.rules))
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimLeft(strings.TrimSpace(raw), "-*#> \t")
		if line == "" {
			continue
		}
		norm := strings.ToLower(line)
		for _, rule := range x.rules {
			if value, ok := matchRule(rule, line, norm); ok {
				values[rule.Field] = value
			}
		}
	}
	return values
}

func matchRule(rule domain.LabelRule, line, norm string) (string, bool) {
	for _, prefix := range rule.Prefixes {
		idx := -1
		switch rule.Match {
		case domain.MatchContains:
			idx = strings.Index(norm, prefix)
		default:
			if strings.HasPrefix(norm, prefix) {
				idx = 0
			}
		}
		if idx < 0 {
			continue
		}
		return valueAfter(line, norm, idx, prefix), true
	}
	return "", false
}

func valueAfter(line, norm string, idx int, marker string) string {
	var value string
	if len(line) == len(norm) {
		value = line[idx+len(marker):]
	} else {
		_, value, _ = strings.Cut(line, ":")
	}
	return strings.Trim(value, " \t:*_`\"")
}

// SplitLabels splits a comma list, trims tokens, drops empties and removes
// duplicates (case and whitespace insensitive) keeping first-seen order.
func SplitLabels(value string) []string {
	labels := make([]string, 0)
	seen := make(map[string]struct{})
	for _, token := range strings.Split(value, ",") {
		label := strings.Join(strings.Fields(strings.Trim(token, " \t[]\"'*.")), " ")
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}
