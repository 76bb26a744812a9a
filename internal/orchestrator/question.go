package orchestrator

import (
	"context"
	"fmt"

	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/session"
)

// AnswerAskUserQuestion delivers the user's answer to a pending structured
// question. The fast path goes through the in-memory question manager;
// after a restart, when the manager has no record, the tool call is located
// in the uncommitted partial or, failing that, in the newest history
// message that still carries it. An answer targeting anything but the most
// recent message is refused.
func (o *Orchestrator) AnswerAskUserQuestion(ctx context.Context, minionID, toolCallID, answer string) error {
	if o.questions.Answer(minionID, toolCallID, answer) {
		return nil
	}

	m, ok := o.lookup(minionID)
	if !ok {
		return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	store := o.History(m)

	partial, err := store.LoadPartial()
	if err != nil {
		return err
	}
	if partial != nil {
		if _, found := partial.ToolCall(toolCallID); found {
			return o.deliverAnswer(ctx, minionID, toolCallID, answer)
		}
	}

	msgs, err := store.LoadAll()
	if err != nil {
		return err
	}
	var matchedSeq int64 = -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if _, found := msgs[i].ToolCall(toolCallID); found {
			matchedSeq = msgs[i].HistorySequence
			break
		}
	}
	if matchedSeq < 0 {
		return fmt.Errorf("tool call %s: %w", toolCallID, errors.ErrQuestionNotFound)
	}

	// Stale-answer guard: the question is only answerable while it is the
	// newest thing in the conversation.
	maxSeq, err := store.MaxSequence()
	if err != nil {
		return err
	}
	if matchedSeq != maxSeq {
		return fmt.Errorf("tool call %s: %w", toolCallID, errors.ErrStaleAnswer)
	}

	return o.deliverAnswer(ctx, minionID, toolCallID, answer)
}

// deliverAnswer feeds an answer straight into the engine, settling the
// session state when it was parked on the question.
func (o *Orchestrator) deliverAnswer(ctx context.Context, minionID, toolCallID, answer string) error {
	s := o.Session(minionID)
	if s.State() == session.StateAwaitingUserInput {
		if err := s.Transition(session.StateStreaming); err != nil {
			o.logger.WithMinion(minionID).Warn("could not resume session from answer", "error", err)
		}
	}
	if err := o.engine.AnswerToolCall(ctx, minionID, toolCallID, answer); err != nil {
		return errors.NewMinionError("failed to deliver answer", err).WithMinionID(minionID)
	}
	return nil
}
