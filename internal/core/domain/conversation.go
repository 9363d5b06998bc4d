package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	CorrelationPrefix = "id-"
	// WindowStartLayout is how resolved window starts are passed to the store.
	WindowStartLayout = "2006-01-02 15:04:05"
)

// ConversationGroup is every message of one lead concatenated into one text.
type ConversationGroup struct {
	ConversationID string `json:"conversation_id"`
	Messages       string `json:"messages"`
}

// ExtractionWindow selects the rows read from the message store. Start is
// either an absolute timestamp or a negative duration such as "-24h"
// counted back from the moment the run starts.
type ExtractionWindow struct {
	SourceID string
	Start    string
	Limit    uint64
}

// IsRelativeStart reports whether Start is a lookback duration.
func (w ExtractionWindow) IsRelativeStart() bool {
	return strings.HasPrefix(strings.TrimSpace(w.Start), "-")
}

// ParseLookback parses a relative start into a positive duration.
func ParseLookback(start string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(start))
	if err != nil {
		return 0, fmt.Errorf("parse relative start %q: %w", start, err)
	}
	if d >= 0 {
		return 0, fmt.Errorf("relative start %q must be negative", start)
	}
	return -d, nil
}

// Resolve pins a relative start to now. Absolute starts are returned as is.
func (w ExtractionWindow) Resolve(now time.Time) (ExtractionWindow, error) {
	if !w.IsRelativeStart() {
		return w, nil
	}
	lookback, err := ParseLookback(w.Start)
	if err != nil {
		return w, err
	}
	w.Start = now.Add(-lookback).Format(WindowStartLayout)
	return w, nil
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// RequestUnit is one line of the batch input file.
type RequestUnit struct {
	CorrelationID string      `json:"custom_id"`
	Method        string      `json:"method"`
	URL           string      `json:"url"`
	Body          ChatRequest `json:"body"`
}

// UserContent returns the concatenated user messages of the request body.
func (u RequestUnit) UserContent() string {
	parts := make([]string, 0, 1)
	for _, msg := range u.Body.Messages {
		if msg.Role == "user" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, " ")
}

func EncodeCorrelationID(conversationID string) string {
	return CorrelationPrefix + conversationID
}

func DecodeCorrelationID(correlationID string) (string, bool) {
	id, ok := strings.CutPrefix(correlationID, CorrelationPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ResultRecord is one decoded line of the batch output file.
type ResultRecord struct {
	CorrelationID string `json:"custom_id"`
	Text          string `json:"text"`
	TokenCount    int    `json:"token_count"`
}

type ClassifiedRecord struct {
	CorrelationID  string   `json:"correlation_id"`
	ConversationID string   `json:"conversation_id"`
	OriginalText   string   `json:"original_text"`
	Subjects       []string `json:"subjects"`
	Auxiliary      string   `json:"auxiliary,omitempty"`
	TokenCount     int      `json:"token_count"`
	HasResult      bool     `json:"has_result"`
}
