package orchestrator

import (
	"fmt"
	"os"

	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/event"
	"github.com/legion-dev/legion/internal/history"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/session"
)

// LoadHistory returns the minion's messages from the latest compaction
// boundary onward.
func (o *Orchestrator) LoadHistory(minionID string) ([]history.Message, error) {
	m, ok := o.lookup(minionID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	return o.History(m).Load()
}

// LoadAllHistory returns the minion's full log across compaction
// boundaries.
func (o *Orchestrator) LoadAllHistory(minionID string) ([]history.Message, error) {
	m, ok := o.lookup(minionID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	return o.History(m).LoadAll()
}

// LoadOlderHistory pages backward from beforeSeq. A limit of zero uses the
// configured page size.
func (o *Orchestrator) LoadOlderHistory(minionID string, beforeSeq int64, limit int) ([]history.Message, bool, error) {
	m, ok := o.lookup(minionID)
	if !ok {
		return nil, false, fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	if limit <= 0 {
		limit = o.config().Session.HistoryPageSize
	}
	return o.History(m).LoadOlder(beforeSeq, limit)
}

// TruncateHistory drops every message with a sequence greater than
// afterSeq. An afterSeq of zero clears the history entirely, which also
// deletes the plan file and the post-compaction tracking state. Refused
// while a turn is active.
func (o *Orchestrator) TruncateHistory(minionID string, afterSeq int64) error {
	m, ok := o.lookup(minionID)
	if !ok {
		return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	if o.Session(minionID).IsBusy() {
		return fmt.Errorf("%s: %w", minionID, errors.ErrHistoryLocked)
	}

	if err := o.History(m).Truncate(afterSeq); err != nil {
		return err
	}
	if afterSeq == 0 {
		o.clearDerivedState(m)
	}

	o.emitChat(minionID, event.ChatHistoryReplaced, afterSeq, "")
	return nil
}

// ReplaceMode selects how ReplaceHistory applies its messages.
type ReplaceMode int

const (
	// ReplaceDestructive clears the log and appends the given messages,
	// re-sequencing them from one.
	ReplaceDestructive ReplaceMode = iota
	// ReplaceAppendBoundary appends a single summary message carrying the
	// next computed compaction epoch, with prior messages left in place.
	ReplaceAppendBoundary
)

// ReplaceRequest describes a history replacement.
type ReplaceRequest struct {
	Mode ReplaceMode

	// Messages is the full replacement log for ReplaceDestructive.
	Messages []history.Message

	// Summary and Marker describe the boundary message for
	// ReplaceAppendBoundary.
	Summary history.Message
	Marker  history.CompactedMarker

	// Compaction marks the replacement as part of a maintenance turn.
	// Compaction replacements are permitted while the turn is active.
	Compaction bool
}

// ReplaceHistory rewrites a minion's message log. Replacements are refused
// during an active turn except when they are themselves the product of a
// compaction turn.
func (o *Orchestrator) ReplaceHistory(minionID string, req ReplaceRequest) error {
	m, ok := o.lookup(minionID)
	if !ok {
		return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	if !req.Compaction && o.Session(minionID).IsBusy() {
		return fmt.Errorf("%s: %w", minionID, errors.ErrHistoryLocked)
	}

	store := o.History(m)
	switch req.Mode {
	case ReplaceDestructive:
		if err := store.ReplaceAll(req.Messages); err != nil {
			return err
		}
		if len(req.Messages) == 0 {
			o.clearDerivedState(m)
		}
	case ReplaceAppendBoundary:
		if !req.Marker.IsSet() {
			return errors.NewValidationError("marker", "boundary summaries require a compacted marker")
		}
		if _, err := store.AppendSummary(req.Summary, req.Marker); err != nil {
			return err
		}
	default:
		return errors.NewValidationError("mode", "unknown replace mode")
	}

	o.emitChat(minionID, event.ChatHistoryReplaced, 0, "")
	return nil
}

// clearDerivedState removes the plan file and local file-tracking state
// that only make sense alongside a conversation.
func (o *Orchestrator) clearDerivedState(m *minion.Minion) {
	log := o.logger.WithMinion(m.ID)
	if err := os.Remove(session.PlanPath(m.ProjectPath, m.ID)); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to delete plan file", "error", err)
	}
	dir := session.Dir(m.ProjectPath, m.ID)
	if err := session.SavePostCompaction(dir, session.PostCompaction{}); err != nil {
		log.Warn("failed to reset tracking state", "error", err)
	}
	o.Session(m.ID).SetPendingCompactionPaths(nil)
}
