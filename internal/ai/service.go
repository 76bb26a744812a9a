// Package ai defines the contract between the orchestrator and the
// language-model invocation engine. The engine itself (token streaming,
// tool-calling semantics) is an external collaborator; this package holds
// the interface plus the typed event union decoded at the boundary.
package ai

import (
	"context"

	"github.com/legion-dev/legion/internal/session"
)

// StreamRequest starts one conversation turn for a minion.
type StreamRequest struct {
	MinionID string
	Text     string
	Settings session.AISettings

	// Compaction marks a maintenance turn (idle or /compact).
	Compaction bool
}

// MinionMetadata is the engine's view of a minion's current stream.
type MinionMetadata struct {
	Model   string `json:"model"`
	AgentID string `json:"agentId,omitempty"`
}

// Service is the language-model invocation engine. Implementations emit
// Event values on the handler registered via SetEventHandler; the
// orchestrator decodes nothing itself.
type Service interface {
	// StartStream begins a turn. At most one stream per minion is accepted;
	// a second concurrent start for the same minion is an error.
	StartStream(ctx context.Context, req StreamRequest) error

	// StopStream requests termination of the minion's active stream. The
	// engine confirms by emitting StreamAbort or StreamEnd.
	StopStream(ctx context.Context, minionID string) error

	// ResumeStream continues an interrupted turn from the persisted partial.
	ResumeStream(ctx context.Context, minionID string) error

	// AnswerToolCall delivers a user answer for a pending tool call.
	AnswerToolCall(ctx context.Context, minionID, toolCallID, answer string) error

	// IsStreaming reports whether the engine has an active stream for the minion.
	IsStreaming(minionID string) bool

	// MinionMetadata returns the engine's metadata for the minion, if any.
	MinionMetadata(minionID string) (MinionMetadata, bool)

	// SetEventHandler registers the single orchestrator-side event sink.
	SetEventHandler(handler func(Event))
}
