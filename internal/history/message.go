// Package history provides the append-only per-minion message log with
// compaction-boundary markers. Messages are stored one JSON object per line
// in chat.jsonl inside the minion's session directory; an uncommitted
// in-flight message lives in partial.json beside it.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role tags who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType discriminates structured message parts.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one structured unit of message content.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`

	// Tool-call fields, set when Type is PartToolCall or PartToolResult.
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// CompactedMarker records how a compacted summary was produced. The wire
// value is either the boolean true or the strings "user" / "idle", so the
// type round-trips all three.
type CompactedMarker string

const (
	// CompactedTrue is the legacy bare-boolean marker.
	CompactedTrue CompactedMarker = "true"
	// CompactedUser marks a summary from an explicit /compact turn.
	CompactedUser CompactedMarker = "user"
	// CompactedIdle marks a summary from automatic idle compaction.
	CompactedIdle CompactedMarker = "idle"
)

// IsSet reports whether the marker carries a value.
func (c CompactedMarker) IsSet() bool { return c != "" }

// MarshalJSON encodes CompactedTrue as the boolean true for compatibility
// with histories written before the marker carried a reason.
func (c CompactedMarker) MarshalJSON() ([]byte, error) {
	switch c {
	case "":
		return []byte("null"), nil
	case CompactedTrue:
		return []byte("true"), nil
	default:
		return json.Marshal(string(c))
	}
}

// UnmarshalJSON accepts true, "user", or "idle". Any other value is
// rejected so malformed markers surface at decode time.
func (c *CompactedMarker) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte("false")) {
		*c = ""
		return nil
	}
	if bytes.Equal(data, []byte("true")) {
		*c = CompactedTrue
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid compacted marker %s", data)
	}
	switch CompactedMarker(s) {
	case CompactedUser, CompactedIdle:
		*c = CompactedMarker(s)
		return nil
	}
	return fmt.Errorf("invalid compacted marker %q", s)
}

// Message is one role-tagged history entry. HistorySequence is a monotonic
// per-minion ordinal assigned on append.
type Message struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`

	HistorySequence int64 `json:"historySequence"`

	// Compaction marker metadata. A message with CompactionBoundary set is
	// structurally valid only if Compacted is also set; epoch derivation
	// skips malformed markers rather than failing.
	CompactionEpoch    int             `json:"compactionEpoch,omitempty"`
	CompactionBoundary bool            `json:"compactionBoundary,omitempty"`
	Compacted          CompactedMarker `json:"compacted,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Text concatenates the text parts of a message.
func (m *Message) Text() string {
	var b bytes.Buffer
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolCall returns the tool-call part with the given ID, if present.
func (m *Message) ToolCall(toolCallID string) (*Part, bool) {
	for i := range m.Parts {
		if m.Parts[i].Type == PartToolCall && m.Parts[i].ToolCallID == toolCallID {
			return &m.Parts[i], true
		}
	}
	return nil, false
}

// IsCompactedSummary reports whether the message is a compacted summary
// with a well-formed boundary marker.
func (m *Message) IsCompactedSummary() bool {
	return m.CompactionBoundary && m.Compacted.IsSet()
}
