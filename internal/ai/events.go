package ai

import (
	"encoding/json"
	"fmt"
)

// Event is one inbound engine event. It is a closed tagged union: the
// orchestrator switches exhaustively on the concrete type, so malformed
// payloads are rejected here at the boundary rather than duck-typed
// downstream.
type Event interface {
	isEvent()
	EventMinionID() string
}

// StreamStart signals a stream has begun for a minion.
type StreamStart struct {
	MinionID string `json:"minionId"`
	Model    string `json:"model"`
	AgentID  string `json:"agentId,omitempty"`
}

// StreamEnd signals a stream completed normally.
type StreamEnd struct {
	MinionID string          `json:"minionId"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// StreamAbort signals a stream was terminated before completion.
type StreamAbort struct {
	MinionID string `json:"minionId"`
}

// ToolCallEnd signals a tool call finished inside a stream.
type ToolCallEnd struct {
	MinionID   string          `json:"minionId"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Result     json.RawMessage `json:"result,omitempty"`
	// Replay marks a re-delivery during crash recovery.
	Replay bool `json:"replay,omitempty"`
}

// StreamError signals a stream failed.
type StreamError struct {
	MinionID string `json:"minionId"`
	Message  string `json:"error"`
}

func (StreamStart) isEvent() {}
func (StreamEnd) isEvent()   {}
func (StreamAbort) isEvent() {}
func (ToolCallEnd) isEvent() {}
func (StreamError) isEvent() {}

func (e StreamStart) EventMinionID() string { return e.MinionID }
func (e StreamEnd) EventMinionID() string   { return e.MinionID }
func (e StreamAbort) EventMinionID() string { return e.MinionID }
func (e ToolCallEnd) EventMinionID() string { return e.MinionID }
func (e StreamError) EventMinionID() string { return e.MinionID }

// envelope is the wire shape of an engine event.
type envelope struct {
	Type string `json:"type"`
}

// DecodeEvent parses a raw engine event into the typed union. Unknown types
// and payloads missing a minion ID are errors; nothing downstream has to
// re-validate the shape.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed engine event: %w", err)
	}

	var ev Event
	switch env.Type {
	case "stream-start":
		var e StreamStart
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("malformed stream-start event: %w", err)
		}
		ev = e
	case "stream-end":
		var e StreamEnd
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("malformed stream-end event: %w", err)
		}
		ev = e
	case "stream-abort":
		var e StreamAbort
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("malformed stream-abort event: %w", err)
		}
		ev = e
	case "tool-call-end":
		var e ToolCallEnd
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("malformed tool-call-end event: %w", err)
		}
		ev = e
	case "error":
		var e StreamError
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("malformed error event: %w", err)
		}
		ev = e
	default:
		return nil, fmt.Errorf("unknown engine event type %q", env.Type)
	}

	if ev.EventMinionID() == "" {
		return nil, fmt.Errorf("engine event %q missing minion id", env.Type)
	}
	return ev, nil
}
