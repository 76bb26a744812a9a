package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/legion-dev/legion/internal/ai"
	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/event"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/session"
)

// askUserQuestionTool is the tool name whose completion parks the session
// in AwaitingUserInput until the user answers.
const askUserQuestionTool = "AskUserQuestion"

// streamEndMetadata is the engine's terminal accounting payload.
type streamEndMetadata struct {
	DurationMs int64          `json:"durationMs"`
	Usage      *session.Usage `json:"usage,omitempty"`
}

// handleEngineEvent is the single sink for decoded engine events. It runs
// on the engine's goroutine; everything here must be quick and must never
// panic the stream.
func (o *Orchestrator) handleEngineEvent(ev ai.Event) {
	switch e := ev.(type) {
	case ai.StreamStart:
		o.onStreamStart(e)
	case ai.StreamEnd:
		o.onStreamEnd(e)
	case ai.StreamAbort:
		o.onStreamAbort(e)
	case ai.ToolCallEnd:
		o.onToolCallEnd(e)
	case ai.StreamError:
		o.onStreamError(e)
	default:
		o.logger.Warn("unhandled engine event", "type", fmt.Sprintf("%T", ev))
	}
}

func (o *Orchestrator) onStreamStart(e ai.StreamStart) {
	s := o.Session(e.MinionID)
	if err := s.StreamStarted(); err != nil {
		// A stream the session did not initiate, such as one surviving a
		// restart. Adopt it rather than fight the engine.
		if !s.BeginTurn(false) {
			o.logger.WithMinion(e.MinionID).Warn("stream started on busy session", "error", err)
		} else if err := s.StreamStarted(); err != nil {
			o.logger.WithMinion(e.MinionID).Warn("could not adopt stream", "error", err)
		}
	}
	o.emitActivity(e.MinionID, event.ActivityStreamStarted, false, nil)
}

func (o *Orchestrator) onStreamEnd(e ai.StreamEnd) {
	s := o.Session(e.MinionID)

	m, ok := o.lookup(e.MinionID)
	if ok {
		o.commitPartial(m)
		o.recordAccounting(m, e.Metadata)
	}

	wasCompaction := s.EndTurn()
	if wasCompaction && ok {
		o.finishCompaction(m, s)
	}
	o.emitActivity(e.MinionID, event.ActivityStreamEnded, wasCompaction, nil)

	if s.QueueLen() > 0 {
		o.dispatchQueued(e.MinionID)
	}
}

func (o *Orchestrator) onStreamAbort(e ai.StreamAbort) {
	s := o.Session(e.MinionID)
	s.EndTurn()
	// The partial stays on disk so the turn can be resumed.
	o.emitActivity(e.MinionID, event.ActivityStreamAborted, false, nil)
}

func (o *Orchestrator) onStreamError(e ai.StreamError) {
	o.logger.WithMinion(e.MinionID).Error("stream failed", "error", e.Message)
	s := o.Session(e.MinionID)
	s.EndTurn()
	o.emitActivity(e.MinionID, event.ActivityError, false, errors.New(e.Message))
}

func (o *Orchestrator) onToolCallEnd(e ai.ToolCallEnd) {
	if e.ToolName != askUserQuestionTool {
		return
	}
	if e.Replay {
		// Crash-recovery redelivery. The question is answered through the
		// persisted fallback path, never re-registered.
		return
	}

	var payload struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(e.Result, &payload); err != nil || payload.Question == "" {
		o.logger.WithMinion(e.MinionID).Warn("malformed ask-user-question payload")
		return
	}

	s := o.Session(e.MinionID)
	if err := s.Transition(session.StateAwaitingUserInput); err != nil {
		o.logger.WithMinion(e.MinionID).Warn("question arrived outside a stream", "error", err)
		return
	}

	q := o.questions.Ask(e.MinionID, e.ToolCallID, payload.Question)
	go o.awaitAnswer(e.MinionID, e.ToolCallID, q)
}

// awaitAnswer blocks on the pending question's channel and feeds the
// answer back into the engine. A closed channel means the question was
// canceled, which already returned the session to a usable state.
func (o *Orchestrator) awaitAnswer(minionID, toolCallID string, q *session.PendingQuestion) {
	answer, ok := <-q.Answer
	if !ok {
		return
	}

	s := o.Session(minionID)
	if err := s.Transition(session.StateStreaming); err != nil {
		o.logger.WithMinion(minionID).Warn("session left awaiting-input before answer", "error", err)
	}
	if err := o.engine.AnswerToolCall(context.Background(), minionID, toolCallID, answer); err != nil {
		o.logger.WithMinion(minionID).Error("failed to deliver tool call answer", "error", err)
		s.EndTurn()
		o.emitActivity(minionID, event.ActivityError, false, err)
	}
}

// commitPartial moves the uncommitted in-flight message into history.
func (o *Orchestrator) commitPartial(m *minion.Minion) {
	store := o.History(m)
	partial, err := store.LoadPartial()
	if err != nil {
		o.logger.WithMinion(m.ID).Warn("failed to read partial", "error", err)
		return
	}
	if partial == nil {
		return
	}

	appended, err := store.Append(*partial)
	if err != nil {
		o.logger.WithMinion(m.ID).Error("failed to commit partial to history", "error", err)
		return
	}
	if err := store.ClearPartial(); err != nil {
		o.logger.WithMinion(m.ID).Warn("failed to clear committed partial", "error", err)
	}
	o.emitChat(m.ID, event.ChatMessageAppended, appended[0].HistorySequence, "")
}

// recordAccounting folds the stream-end metadata into the persisted timing
// and usage files. Best effort.
func (o *Orchestrator) recordAccounting(m *minion.Minion, raw json.RawMessage) {
	dir := session.Dir(m.ProjectPath, m.ID)
	var md streamEndMetadata
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &md); err != nil {
			o.logger.WithMinion(m.ID).Warn("malformed stream-end metadata", "error", err)
			md = streamEndMetadata{}
		}
	}

	timing, err := session.LoadTiming(dir)
	if err == nil {
		timing.Add(session.Timing{TotalStreamMs: md.DurationMs, TurnCount: 1})
		err = session.SaveTiming(dir, timing)
	}
	if err != nil {
		o.logger.WithMinion(m.ID).Warn("failed to record timing", "error", err)
	}

	if md.Usage != nil {
		usage, err := session.LoadUsage(dir)
		if err == nil {
			usage.Add(*md.Usage)
			err = session.SaveUsage(dir, usage)
		}
		if err != nil {
			o.logger.WithMinion(m.ID).Warn("failed to record usage", "error", err)
		}
	}
}

// finishCompaction rewrites the post-compaction tracking file from the
// paths cached when the maintenance turn began.
func (o *Orchestrator) finishCompaction(m *minion.Minion, s *session.Session) {
	paths := s.TakePendingCompactionPaths()
	if paths == nil {
		return
	}
	dir := session.Dir(m.ProjectPath, m.ID)

	excl, err := session.LoadExclusions(dir)
	if err == nil && excl != nil {
		kept := paths[:0]
		for _, p := range paths {
			if !excl.Excluded(p) {
				kept = append(kept, p)
			}
		}
		paths = kept
	}

	if err := session.SavePostCompaction(dir, session.PostCompaction{TrackedPaths: paths}); err != nil {
		o.logger.WithMinion(m.ID).Warn("failed to write post-compaction state", "error", err)
	}
}

// dispatchQueued starts the next queued message. Runs on its own goroutine
// since it issues a fresh engine call.
func (o *Orchestrator) dispatchQueued(minionID string) {
	go func() {
		s := o.Session(minionID)
		queued := s.DrainQueue()
		if len(queued) == 0 {
			return
		}
		next := queued[0]
		for _, rest := range queued[1:] {
			s.Enqueue(rest)
		}
		if err := o.SendMessage(context.Background(), minionID, next.Text, SendOptions{
			Settings:          next.Settings,
			NoPersistDefaults: !next.PersistDefaults,
		}); err != nil {
			o.logger.WithMinion(minionID).Warn("failed to dispatch queued message", "error", err)
		}
	}()
}
