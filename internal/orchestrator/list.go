package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/session"
)

// MinionStatus is a minion decorated with its live session state.
type MinionStatus struct {
	Minion       *minion.Minion
	State        session.State
	QueueLen     int
	Initializing bool
	Removing     bool
}

// Get returns one minion by ID.
func (o *Orchestrator) Get(minionID string) (*minion.Minion, error) {
	m, ok := o.lookup(minionID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	return m, nil
}

// Resolve finds a minion in a project by ID or name.
func (o *Orchestrator) Resolve(projectPath, ref string) (*minion.Minion, error) {
	reg, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	if m, ok := reg.FindMinion(ref); ok {
		return m, nil
	}
	if m, ok := reg.FindByName(projectPath, ref); ok {
		return m, nil
	}
	return nil, fmt.Errorf("%s: %w", ref, errors.ErrMinionNotFound)
}

// List returns the project's minions with live session decorations, sorted
// by creation time. Minions mid-removal are reported as such rather than
// hidden, so an interrupted removal stays visible until it completes.
func (o *Orchestrator) List(projectPath string, includeArchived bool) ([]MinionStatus, error) {
	reg, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	var out []MinionStatus
	p, ok := reg.Projects[projectPath]
	if !ok {
		return nil, nil
	}
	for _, m := range p.Minions {
		if m.Archived() && !includeArchived {
			continue
		}
		removing := o.isRemoving(m.ID) || session.HasRemovingMarker(m.ProjectPath, m.ID)
		s := o.Session(m.ID)
		out = append(out, MinionStatus{
			Minion:       m,
			State:        s.State(),
			QueueLen:     s.QueueLen(),
			Initializing: o.tracker.IsInitializing(m.ID),
			Removing:     removing,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Minion.CreatedAt.Before(out[j].Minion.CreatedAt)
	})
	return out, nil
}

// Startup runs the process-start recovery pass: interrupted removals are
// resumed and orphaned scrollback files pruned.
func (o *Orchestrator) Startup(ctx context.Context) {
	if n := o.ResumeInterruptedRemovals(ctx); n > 0 {
		o.logger.Info("resumed interrupted removals", "count", n)
	}

	if o.scrollback == nil {
		return
	}
	reg, err := o.store.Load()
	if err != nil {
		o.logger.Warn("startup scrollback prune skipped", "error", err)
		return
	}
	var live []string
	for _, p := range reg.Projects {
		for _, m := range p.Minions {
			live = append(live, m.ID)
		}
	}
	pruned, err := o.scrollback.Prune(live)
	if err != nil {
		o.logger.Warn("scrollback prune failed", "error", err)
	} else if pruned > 0 {
		o.logger.Info("pruned orphaned scrollback", "count", pruned)
	}
}
