package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/legion-dev/legion/internal/config"
	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/runtime"
	"github.com/legion-dev/legion/internal/session"
)

// RemoveOptions tunes removal behavior.
type RemoveOptions struct {
	// Force proceeds past a failed working-copy deletion, removing the
	// registry entry anyway and leaving the copy orphaned on disk.
	Force bool

	// SkipRollup removes the minion without consolidating its artifacts,
	// timing, or usage into the parent.
	SkipRollup bool
}

// Remove deletes a minion: its stream is stopped, its artifacts are rolled
// up into the parent, the working copy and session directory are destroyed,
// and the registry entry is dropped. Removal is idempotent; a concurrent or
// repeated remove of the same minion returns success without redoing work.
func (o *Orchestrator) Remove(ctx context.Context, minionID string, opts RemoveOptions) error {
	// Fast path before taking the executor: a remove already in flight
	// means this call's goal is already being accomplished.
	o.mu.Lock()
	if o.removing[minionID] {
		o.mu.Unlock()
		return nil
	}
	o.removing[minionID] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.removing, minionID)
		o.mu.Unlock()
	}()

	lock := o.opLock(minionID)
	lock.Lock()
	defer lock.Unlock()

	m, ok := o.lookup(minionID)
	if !ok {
		// Already gone. Idempotent success.
		return nil
	}
	if m.Name == ReservedMinionName {
		return fmt.Errorf("%w: %s", errors.ErrMinionReserved, m.Name)
	}

	log := o.logger.WithMinion(minionID)
	log.Info("removing minion", "name", m.Name, "force", opts.Force)

	// The marker makes an interrupted removal detectable on restart:
	// anything carrying it is resumed, never revived.
	if err := session.WriteRemovingMarker(m.ProjectPath, m.ID); err != nil {
		log.Warn("failed to write removal marker", "error", err)
	}

	o.tracker.Abort(minionID)
	o.stopStreamAndWait(ctx, minionID)
	o.questions.Cancel(minionID)
	o.coord.NotifyRemoved(minionID)

	if !opts.SkipRollup && m.ParentID != "" {
		o.rollupToParent(m, log)
	}

	rt, err := runtime.New(m.Runtime, o.logger)
	if err != nil {
		if !opts.Force {
			return err
		}
		log.Warn("unknown runtime, forcing registry removal", "error", err)
	} else if err := rt.DeleteMinion(ctx, m); err != nil {
		if !opts.Force {
			return errors.NewMinionError("failed to delete working copy", err).WithMinionID(minionID)
		}
		log.Warn("working copy deletion failed, forcing removal", "error", err)
	}

	// The registry entry goes before the session directory. The marker lives
	// inside that directory, so deleting the directory first would open a
	// window where a crash leaves a registered minion with no marker to
	// resume from. The orphaned directory left by the reverse window is
	// swept at startup.
	if err := o.store.Edit(func(reg *config.Registry) error {
		reg.RemoveMinion(minionID)
		o.rethreadChildren(reg, m)
		return nil
	}); err != nil {
		return err
	}

	if err := os.RemoveAll(session.Dir(m.ProjectPath, m.ID)); err != nil {
		log.Warn("failed to delete session directory", "error", err)
	}
	if o.scrollback != nil {
		if err := o.scrollback.Close(minionID); err != nil {
			log.Warn("failed to drop scrollback", "error", err)
		}
	}

	o.disposeSession(minionID)
	o.emitMetadata(minionID, nil)
	log.Info("minion removed", "name", m.Name)
	return nil
}

// rethreadChildren reparents the removed minion's children to its parent so
// the ancestor chain stays connected.
func (o *Orchestrator) rethreadChildren(reg *config.Registry, removed *minion.Minion) {
	for _, p := range reg.Projects {
		for _, child := range p.Minions {
			if child.ParentID == removed.ID {
				child.ParentID = removed.ParentID
			}
		}
	}
}

// rollupToParent merges the child's timing, usage, and artifact indexes
// into the parent's session directory. Every step is best effort; a failed
// rollup never blocks the removal.
func (o *Orchestrator) rollupToParent(m *minion.Minion, log *logging.Logger) {
	parent, ok := o.lookup(m.ParentID)
	if !ok {
		log.Debug("rollup skipped, parent gone", "parent", m.ParentID)
		return
	}

	childDir := session.Dir(m.ProjectPath, m.ID)
	parentDir := session.Dir(parent.ProjectPath, parent.ID)

	childTiming, err := session.LoadTiming(childDir)
	if err != nil {
		log.Warn("rollup: failed to read child timing", "error", err)
	} else if childTiming != (session.Timing{}) {
		parentTiming, err := session.LoadTiming(parentDir)
		if err == nil {
			parentTiming.Add(childTiming)
			err = session.SaveTiming(parentDir, parentTiming)
		}
		if err != nil {
			log.Warn("rollup: failed to merge timing", "error", err)
		}
	}

	childUsage, err := session.LoadUsage(childDir)
	if err != nil {
		log.Warn("rollup: failed to read child usage", "error", err)
	} else if childUsage != (session.Usage{}) {
		parentUsage, err := session.LoadUsage(parentDir)
		if err == nil {
			parentUsage.Add(childUsage)
			err = session.SaveUsage(parentDir, parentUsage)
		}
		if err != nil {
			log.Warn("rollup: failed to merge usage", "error", err)
		}
	}

	for _, err := range o.roller.Consolidate(parentDir, childDir, parent.ID, m.ID) {
		log.Warn("rollup: artifact consolidation error", "error", err)
	}
}

// stopStreamAndWait asks the engine to stop the minion's stream, then waits
// a bounded interval for the session to settle. Expiry is logged and
// tolerated; removal proceeds regardless.
func (o *Orchestrator) stopStreamAndWait(ctx context.Context, minionID string) {
	if o.engine == nil || !o.engine.IsStreaming(minionID) {
		return
	}
	if err := o.engine.StopStream(ctx, minionID); err != nil {
		o.logger.WithMinion(minionID).Warn("stop stream failed", "error", err)
		return
	}

	wait := o.config().Session.StopStreamTimeout
	if wait <= 0 {
		wait = stopStreamWait
	}
	deadline := time.After(wait)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			o.logger.WithMinion(minionID).Warn("stream did not stop in time, proceeding")
			return
		case <-ctx.Done():
			return
		case <-tick.C:
			if !o.engine.IsStreaming(minionID) {
				return
			}
		}
	}
}

// ResumeInterruptedRemovals scans the registry for minions whose session
// directory carries a removal marker and finishes removing them, then
// sweeps marker-carrying session directories that no registered minion
// owns (a crash after the registry edit but before the directory was
// deleted). Called once at startup.
func (o *Orchestrator) ResumeInterruptedRemovals(ctx context.Context) int {
	reg, err := o.store.Load()
	if err != nil {
		o.logger.Error("startup removal scan: failed to load registry", "error", err)
		return 0
	}

	var stale []string
	for _, p := range reg.Projects {
		for _, m := range p.Minions {
			if session.HasRemovingMarker(m.ProjectPath, m.ID) {
				stale = append(stale, m.ID)
			}
		}
	}

	resumed := 0
	for _, id := range stale {
		o.logger.WithMinion(id).Info("resuming interrupted removal")
		if err := o.Remove(ctx, id, RemoveOptions{Force: true}); err != nil {
			o.logger.WithMinion(id).Warn("interrupted removal could not be resumed", "error", err)
			continue
		}
		resumed++
	}

	o.sweepOrphanedSessionDirs(reg)
	return resumed
}

// sweepOrphanedSessionDirs deletes session directories that carry a removal
// marker but belong to no registered minion.
func (o *Orchestrator) sweepOrphanedSessionDirs(reg *config.Registry) {
	for projectPath := range reg.Projects {
		entries, err := os.ReadDir(session.MinionsDir(projectPath))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			id := e.Name()
			if _, ok := reg.FindMinion(id); ok {
				continue
			}
			if !session.HasRemovingMarker(projectPath, id) {
				continue
			}
			if err := os.RemoveAll(session.Dir(projectPath, id)); err != nil {
				o.logger.WithMinion(id).Warn("failed to sweep orphaned session directory", "error", err)
				continue
			}
			o.logger.WithMinion(id).Info("swept orphaned session directory")
		}
	}
}
