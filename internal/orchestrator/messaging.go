package orchestrator

import (
	"context"
	"fmt"

	"github.com/legion-dev/legion/internal/ai"
	"github.com/legion-dev/legion/internal/config"
	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/event"
	"github.com/legion-dev/legion/internal/history"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/session"
)

// SendOptions tunes message dispatch.
type SendOptions struct {
	Settings session.AISettings

	// NoPersistDefaults leaves the minion's stored model defaults alone.
	// Compaction turns always behave as if this were set.
	NoPersistDefaults bool

	// Immediate rejects instead of queueing when the session is busy.
	Immediate bool
}

// SendMessage dispatches a user message to a minion. A busy session queues
// the message unless Immediate is set. Sends are refused while the minion
// is being renamed or removed, and for queued sub-tasks, which only the
// task coordinator may drive.
func (o *Orchestrator) SendMessage(ctx context.Context, minionID, text string, opts SendOptions) error {
	m, err := o.sendTarget(minionID)
	if err != nil {
		return err
	}

	// A send with no explicit settings runs on the stored defaults.
	if opts.Settings == (session.AISettings{}) {
		opts.Settings = session.AISettings{Model: m.Model, ThinkingLevel: m.ThinkingLevel}
		opts.NoPersistDefaults = true
	}

	s := o.Session(minionID)
	if !s.BeginTurn(false) {
		if opts.Immediate {
			return errors.NewBusyError(minionID, "send", errors.ErrSessionBusy)
		}
		s.Enqueue(session.QueuedMessage{
			Text:            text,
			Settings:        opts.Settings,
			PersistDefaults: !opts.NoPersistDefaults,
		})
		o.emitChat(minionID, event.ChatQueueChanged, 0, "")
		return nil
	}

	return o.dispatch(ctx, m, s, text, opts.Settings, !opts.NoPersistDefaults, false)
}

// ResumeStream continues a minion's interrupted turn from its persisted
// partial message. The same refusals as SendMessage apply.
func (o *Orchestrator) ResumeStream(ctx context.Context, minionID string) error {
	m, err := o.sendTarget(minionID)
	if err != nil {
		return err
	}

	partial, err := o.History(m).LoadPartial()
	if err != nil {
		return err
	}
	if partial == nil {
		return fmt.Errorf("%s: %w", minionID, errors.ErrStreamNotActive)
	}

	s := o.Session(minionID)
	if !s.BeginTurn(false) {
		return errors.NewBusyError(minionID, "resume", errors.ErrSessionBusy)
	}

	if err := o.engine.ResumeStream(ctx, minionID); err != nil {
		s.EndTurn()
		return errors.NewMinionError("failed to resume stream", err).WithMinionID(minionID)
	}
	return nil
}

// Compact starts a maintenance turn that summarizes the conversation. The
// turn is tagged as compaction on its stream-ended snapshot and never
// overwrites the minion's stored model defaults. TrackedPaths are cached
// for the post-compaction rewrite of the tracking file.
func (o *Orchestrator) Compact(ctx context.Context, minionID, prompt string, trackedPaths []string) error {
	m, err := o.sendTarget(minionID)
	if err != nil {
		return err
	}

	s := o.Session(minionID)
	if !s.BeginTurn(true) {
		return errors.NewBusyError(minionID, "compact", errors.ErrSessionBusy)
	}
	s.SetPendingCompactionPaths(trackedPaths)

	settings := session.AISettings{}
	if cached := s.Settings(); cached != nil {
		settings = *cached
	}
	return o.dispatch(ctx, m, s, prompt, settings, false, true)
}

// sendTarget resolves a minion and applies the shared messaging refusals.
func (o *Orchestrator) sendTarget(minionID string) (*minion.Minion, error) {
	o.mu.Lock()
	removing, renaming := o.removing[minionID], o.renaming[minionID]
	o.mu.Unlock()
	if removing {
		return nil, fmt.Errorf("%s: %w", minionID, errors.ErrRemovalInProgress)
	}
	if renaming {
		return nil, fmt.Errorf("%s: %w", minionID, errors.ErrRenameInProgress)
	}

	m, ok := o.lookup(minionID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	if m.Archived() {
		return nil, fmt.Errorf("%s: %w", m.Name, errors.ErrMinionArchived)
	}
	if m.TaskStatus == minion.TaskQueued && o.coord.IsQueued(minionID) {
		return nil, fmt.Errorf("%s: %w", m.Name, errors.ErrQueuedTask)
	}
	return m, nil
}

// dispatch appends the user message, persists settings, and starts the
// stream. The session is already in Starting; any failure returns it to
// Idle.
func (o *Orchestrator) dispatch(ctx context.Context, m *minion.Minion, s *session.Session, text string, settings session.AISettings, persistDefaults, compaction bool) error {
	store := o.History(m)

	appended, err := store.Append(history.Message{
		Role:  history.RoleUser,
		Parts: []history.Part{{Type: history.PartText, Text: text}},
	})
	if err != nil {
		s.EndTurn()
		return err
	}
	o.emitChat(m.ID, event.ChatMessageAppended, appended[0].HistorySequence, "")

	// A new user message cancels any pending structured question.
	o.questions.Cancel(m.ID)

	s.SetSettings(settings)
	if persistDefaults {
		o.persistSettings(m, settings)
	}

	if err := o.engine.StartStream(ctx, ai.StreamRequest{
		MinionID:   m.ID,
		Text:       text,
		Settings:   settings,
		Compaction: compaction,
	}); err != nil {
		s.EndTurn()
		return errors.NewMinionError("failed to start stream", err).WithMinionID(m.ID)
	}
	return nil
}

// persistSettings stores the effective settings as the minion's defaults.
// Best effort; a failed write never fails the send.
func (o *Orchestrator) persistSettings(m *minion.Minion, settings session.AISettings) {
	if settings == (session.AISettings{}) {
		return
	}
	if err := o.store.Edit(func(reg *config.Registry) error {
		cur, ok := reg.FindMinion(m.ID)
		if !ok {
			return nil
		}
		cur.Model = settings.Model
		cur.ThinkingLevel = settings.ThinkingLevel
		return nil
	}); err != nil {
		o.logger.WithMinion(m.ID).Warn("failed to persist model defaults", "error", err)
	}
}

// InterruptOptions tunes stream interruption.
type InterruptOptions struct {
	// Soft stops the stream without cascading to descendant sub-tasks.
	Soft bool

	// AbandonPartial discards the uncommitted partial message instead of
	// leaving it for a later resume.
	AbandonPartial bool

	// SendQueuedImmediately flushes the queue into a new turn once the
	// stream has stopped, instead of returning the messages to the caller.
	SendQueuedImmediately bool
}

// InterruptStream stops a minion's in-flight turn. Hard interrupts also
// terminate every descendant sub-task so none of them can auto-resume the
// parent later. Queued messages are returned unless flushed into a new
// turn.
func (o *Orchestrator) InterruptStream(ctx context.Context, minionID string, opts InterruptOptions) ([]session.QueuedMessage, error) {
	s := o.Session(minionID)
	if !s.IsBusy() && s.State() != session.StateAwaitingUserInput {
		return nil, fmt.Errorf("%s: %w", minionID, errors.ErrStreamNotActive)
	}

	if s.State() == session.StateAwaitingUserInput {
		o.questions.Cancel(minionID)
		s.EndTurn()
	} else {
		if err := s.Transition(session.StateInterrupting); err == nil {
			o.stopStreamAndWait(ctx, minionID)
		}
		s.EndTurn()
	}

	if !opts.Soft {
		interrupted := o.coord.InterruptDescendants(minionID, o.lookupFn())
		for _, id := range interrupted {
			o.logger.WithMinion(id).Info("descendant task interrupted", "parent", minionID)
		}
	}

	if opts.AbandonPartial {
		if m, ok := o.lookup(minionID); ok {
			if err := o.History(m).ClearPartial(); err != nil {
				o.logger.WithMinion(minionID).Warn("failed to discard partial", "error", err)
			}
		}
	}

	o.emitActivity(minionID, event.ActivityStreamAborted, false, nil)

	queued := s.DrainQueue()
	if opts.SendQueuedImmediately && len(queued) > 0 {
		next := queued[0]
		rest := queued[1:]
		err := o.SendMessage(ctx, minionID, next.Text, SendOptions{
			Settings:          next.Settings,
			NoPersistDefaults: !next.PersistDefaults,
		})
		if err != nil {
			o.logger.WithMinion(minionID).Warn("failed to flush queued message", "error", err)
			return queued, nil
		}
		for _, q := range rest {
			s.Enqueue(q)
		}
		return nil, nil
	}
	return queued, nil
}
