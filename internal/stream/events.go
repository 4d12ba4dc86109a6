// Package stream decodes the agent's JSON-object-per-line output and turns
// it into supervision facts: token usage, tool activity, failures, writes
// and control sigils.
package stream

import (
	"encoding/json"
	"strings"
)

type RecordType string

const (
	RecordSystem    RecordType = "system"
	RecordAssistant RecordType = "assistant"
	RecordUser      RecordType = "user"
	RecordResult    RecordType = "result"
)

// Record is one line of the agent's stream-json output. Only the fields the
// supervisor reads are modeled; everything else passes through untouched.
type Record struct {
	Type         RecordType `json:"type"`
	Subtype      string     `json:"subtype,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	Model        string     `json:"model,omitempty"`
	Message      *Message   `json:"message,omitempty"`
	DurationMS   int64      `json:"duration_ms,omitempty"`
	NumTurns     int        `json:"num_turns,omitempty"`
	TotalCostUSD float64    `json:"total_cost_usd,omitempty"`
	Result       string     `json:"result,omitempty"`
}

type Message struct {
	Role    string        `json:"role,omitempty"`
	Content []ContentItem `json:"content,omitempty"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ContentItem covers both assistant items (text, tool_use) and user items
// (tool_result).
type ContentItem struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// DecodeRecord parses one line. Callers treat an error as "drop the line".
func DecodeRecord(line []byte) (Record, error) {
	record := Record{}
	if err := json.Unmarshal(line, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Known reports whether the record type is one the supervisor understands.
func (r Record) Known() bool {
	switch r.Type {
	case RecordSystem, RecordAssistant, RecordUser, RecordResult:
		return true
	default:
		return false
	}
}

// AssistantTexts returns the text blocks of an assistant record, in order.
func (r Record) AssistantTexts() []string {
	if r.Type != RecordAssistant || r.Message == nil {
		return nil
	}
	texts := []string{}
	for _, item := range r.Message.Content {
		if item.Type == "text" && item.Text != "" {
			texts = append(texts, item.Text)
		}
	}
	return texts
}

// toolInput carries the agent tool arguments the supervisor cares about.
type toolInput struct {
	Command   string `json:"command"`
	FilePath  string `json:"file_path"`
	Path      string `json:"path"`
	Pattern   string `json:"pattern"`
	Content   string `json:"content"`
	NewString string `json:"new_string"`
	URL       string `json:"url"`
	Prompt    string `json:"prompt"`
}

func decodeToolInput(raw json.RawMessage) toolInput {
	input := toolInput{}
	if len(raw) == 0 {
		return input
	}
	_ = json.Unmarshal(raw, &input)
	return input
}

// flattenResultContent renders a tool_result payload as text whether the
// agent sent a plain string or a list of text blocks.
func flattenResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, block := range blocks {
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}
