package orchestrator

import (
	"context"
	"fmt"

	"github.com/legion-dev/legion/internal/config"
	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/history"
	"github.com/legion-dev/legion/internal/namer"
	"github.com/legion-dev/legion/internal/runtime"
)

// Rename changes a minion's physical name: the working copy (worktree path
// and branch) moves with it. Renames are refused while the minion is
// streaming, being removed, or already being renamed; use UpdateTitle for
// cosmetic changes, which none of those block.
func (o *Orchestrator) Rename(ctx context.Context, minionID, newName string) error {
	if err := namer.ValidateName(newName); err != nil {
		return err
	}

	o.mu.Lock()
	switch {
	case o.removing[minionID]:
		o.mu.Unlock()
		return fmt.Errorf("%s: %w", minionID, errors.ErrRemovalInProgress)
	case o.renaming[minionID]:
		o.mu.Unlock()
		return fmt.Errorf("%s: %w", minionID, errors.ErrRenameInProgress)
	}
	o.renaming[minionID] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.renaming, minionID)
		o.mu.Unlock()
	}()

	lock := o.opLock(minionID)
	lock.Lock()
	defer lock.Unlock()

	m, ok := o.lookup(minionID)
	if !ok {
		return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	if m.Name == ReservedMinionName {
		return fmt.Errorf("%w: %s", errors.ErrMinionReserved, m.Name)
	}
	if m.Name == newName {
		return nil
	}
	if o.Session(minionID).IsBusy() {
		return errors.NewBusyError(minionID, "rename", errors.ErrSessionBusy)
	}

	reg, err := o.store.Load()
	if err != nil {
		return err
	}
	if _, taken := reg.FindByName(m.ProjectPath, newName); taken {
		return fmt.Errorf("%w: %s", errors.ErrMinionExists, newName)
	}

	rt, err := runtime.New(m.Runtime, o.logger)
	if err != nil {
		return err
	}
	if err := rt.RenameMinion(ctx, m, newName); err != nil {
		return errors.NewMinionError("failed to rename working copy", err).WithMinionID(minionID)
	}

	oldName := m.Name
	if err := o.store.Edit(func(reg *config.Registry) error {
		cur, ok := reg.FindMinion(minionID)
		if !ok {
			return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
		}
		cur.Name = newName
		return nil
	}); err != nil {
		return err
	}
	m.Name = newName

	o.logger.WithMinion(minionID).Info("minion renamed", "from", oldName, "to", newName)
	o.emitMetadata(minionID, m)
	return nil
}

// UpdateTitle sets a minion's cosmetic title. Titles are pure metadata, so
// an active stream does not block the update.
func (o *Orchestrator) UpdateTitle(minionID, title string) error {
	title = namer.SanitizeTitle(title)

	m, ok := o.lookup(minionID)
	if !ok {
		return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}

	if err := o.store.Edit(func(reg *config.Registry) error {
		cur, ok := reg.FindMinion(minionID)
		if !ok {
			return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
		}
		cur.Title = title
		return nil
	}); err != nil {
		return err
	}
	m.Title = title

	o.emitMetadata(minionID, m)
	return nil
}

// RegenerateTitle asks the title model for a fresh title from the
// conversation so far and persists it. The prompt is built from the first
// user turn of the current compaction epoch plus the last three turns; if
// the current epoch has no user turn yet, the full history is scanned
// instead.
func (o *Orchestrator) RegenerateTitle(ctx context.Context, minionID string) (string, error) {
	if o.titles == nil {
		return "", errors.New("no title client configured")
	}

	m, ok := o.lookup(minionID)
	if !ok {
		return "", fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}

	store := o.History(m)
	msgs, err := store.Load()
	if err != nil {
		return "", err
	}
	if !hasUserTurn(msgs) {
		msgs, err = store.LoadAll()
		if err != nil {
			return "", err
		}
	}

	turns := collectTurns(msgs)
	firstIdx := -1
	for i, t := range turns {
		if t.Role == string(history.RoleUser) {
			firstIdx = i
			break
		}
	}
	if firstIdx < 0 {
		return "", errors.NewValidationError("history", "no user turn to derive a title from")
	}

	first := turns[firstIdx]
	recent := turns[firstIdx+1:]
	omitted := 0
	if len(recent) > 3 {
		omitted = len(recent) - 3
		recent = recent[len(recent)-3:]
	}

	raw, err := o.titles.GenerateTitle(ctx, namer.BuildTitlePrompt(first, recent, omitted))
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}
	title := namer.SanitizeTitle(raw)
	if title == "" {
		return "", errors.New("title model returned an empty title")
	}

	if err := o.UpdateTitle(minionID, title); err != nil {
		return "", err
	}
	return title, nil
}

func hasUserTurn(msgs []history.Message) bool {
	for i := range msgs {
		if msgs[i].Role == history.RoleUser && !msgs[i].IsCompactedSummary() {
			return true
		}
	}
	return false
}

// collectTurns flattens messages into prompt turns, dropping compaction
// summaries and empty text.
func collectTurns(msgs []history.Message) []namer.Turn {
	var turns []namer.Turn
	for i := range msgs {
		m := &msgs[i]
		if m.IsCompactedSummary() {
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		turns = append(turns, namer.Turn{Role: string(m.Role), Text: text})
	}
	return turns
}
