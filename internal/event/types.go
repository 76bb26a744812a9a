// Package event provides typed publish/subscribe fan-out for orchestrator
// events. Each event category (chat, metadata, activity) has its own
// registry with an independent subscribe/unsubscribe lifecycle, so a
// subscriber interested in chat deltas never sees activity noise and
// session disposal can drop exactly the subscriptions it owns.
package event

import "time"

// ChatEvent reports a change to a minion's visible conversation: a new
// committed message, a streaming delta, or a queue change.
type ChatEvent struct {
	MinionID string
	Kind     ChatKind
	// Sequence is the history sequence of the affected message, when known.
	Sequence int64
	// Delta carries streamed text for ChatDelta events.
	Delta string
	At    time.Time
}

// ChatKind discriminates chat events.
type ChatKind string

const (
	ChatMessageAppended ChatKind = "message_appended"
	ChatDelta           ChatKind = "delta"
	ChatHistoryReplaced ChatKind = "history_replaced"
	ChatQueueChanged    ChatKind = "queue_changed"
)

// MetadataEvent reports a change to a minion's persisted metadata (name,
// title, archive state, task status). A nil Metadata signals removal.
type MetadataEvent struct {
	MinionID string
	// Metadata is the fresh metadata snapshot, or nil when the minion was
	// removed.
	Metadata map[string]any
	At       time.Time
}

// ActivityEvent reports streaming lifecycle changes for a minion.
type ActivityEvent struct {
	MinionID string
	Kind     ActivityKind
	// Compaction is set on stream-ended snapshots for maintenance turns.
	// It is never set on stream-started snapshots.
	Compaction bool
	Err        error
	At         time.Time
}

// ActivityKind discriminates activity events.
type ActivityKind string

const (
	ActivityStreamStarted ActivityKind = "stream_started"
	ActivityStreamEnded   ActivityKind = "stream_ended"
	ActivityStreamAborted ActivityKind = "stream_aborted"
	ActivityInitStarted   ActivityKind = "init_started"
	ActivityInitEnded     ActivityKind = "init_ended"
	ActivityError         ActivityKind = "error"
)
