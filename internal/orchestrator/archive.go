package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/legion-dev/legion/internal/config"
	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/runtime"
)

// Archive marks a minion archived. In-flight provisioning is aborted first,
// pre-archive hooks run next, and only if every hook succeeds are the stream
// stopped, the terminal scrollback closed, and the archive persisted.
// Archiving an already archived minion is a no-op.
func (o *Orchestrator) Archive(ctx context.Context, minionID string) error {
	lock := o.opLock(minionID)
	lock.Lock()
	defer lock.Unlock()

	m, ok := o.lookup(minionID)
	if !ok {
		return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	if m.Archived() {
		return nil
	}
	if o.isRemoving(minionID) {
		return fmt.Errorf("%s: %w", minionID, errors.ErrRemovalInProgress)
	}

	// An archived minion must not keep provisioning its working copy.
	o.tracker.Abort(minionID)

	// Hooks run before the stream is touched so a hook veto leaves the
	// minion streaming undisturbed.
	for _, h := range o.preArchiveHooks {
		if err := h(m); err != nil {
			return errors.NewMinionError("pre-archive hook failed", err).WithMinionID(minionID)
		}
	}

	o.stopStreamAndWait(ctx, minionID)
	if o.scrollback != nil {
		if err := o.scrollback.Close(minionID); err != nil {
			o.logger.WithMinion(minionID).Warn("failed to drop scrollback", "error", err)
		}
	}

	now := time.Now()
	if err := o.store.Edit(func(reg *config.Registry) error {
		cur, ok := reg.FindMinion(minionID)
		if !ok {
			return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
		}
		cur.ArchivedAt = &now
		return nil
	}); err != nil {
		return err
	}

	m.ArchivedAt = &now
	o.logger.WithMinion(minionID).Info("minion archived", "name", m.Name)
	o.emitMetadata(minionID, m)
	return nil
}

// Unarchive clears a minion's archived state. Unarchiving an active minion
// is a no-op. Post-unarchive hooks are best effort.
func (o *Orchestrator) Unarchive(ctx context.Context, minionID string) error {
	lock := o.opLock(minionID)
	lock.Lock()
	defer lock.Unlock()

	m, ok := o.lookup(minionID)
	if !ok {
		return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	if !m.Archived() {
		return nil
	}

	now := time.Now()
	if err := o.store.Edit(func(reg *config.Registry) error {
		cur, ok := reg.FindMinion(minionID)
		if !ok {
			return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
		}
		cur.UnarchivedAt = &now
		return nil
	}); err != nil {
		return err
	}
	m.UnarchivedAt = &now

	for _, h := range o.postUnarchiveHooks {
		if err := h(m); err != nil {
			o.logger.WithMinion(minionID).Warn("post-unarchive hook failed", "error", err)
		}
	}

	o.logger.WithMinion(minionID).Info("minion unarchived", "name", m.Name)
	o.emitMetadata(minionID, m)
	return nil
}

// MergedResult reports one minion's fate during a bulk merged-branch sweep.
type MergedResult struct {
	MinionID string
	Name     string
	Merged   bool
	Archived bool
	Err      error
}

// ArchiveMerged finds the project's worktree minions whose branches have
// been merged into the trunk and archives them. Branch checks fan out
// across a bounded worker pool; archive persistence runs sequentially so
// the registry sees one writer.
func (o *Orchestrator) ArchiveMerged(ctx context.Context, projectPath string) ([]MergedResult, error) {
	reg, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	var candidates []*minion.Minion
	if p, ok := reg.Projects[projectPath]; ok {
		for _, m := range p.Minions {
			if m.Runtime.Kind == minion.RuntimeWorktree && !m.Archived() && m.Name != ReservedMinionName {
				candidates = append(candidates, m)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	workers := int64(o.config().Archive.Workers)
	if workers <= 0 {
		workers = 4
	}
	sem := semaphore.NewWeighted(workers)
	results := make([]MergedResult, len(candidates))

	var wg sync.WaitGroup
	for i, m := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = MergedResult{MinionID: m.ID, Name: m.Name, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, m *minion.Minion) {
			defer wg.Done()
			defer sem.Release(1)
			merged, err := o.branchMerged(ctx, m)
			results[i] = MergedResult{MinionID: m.ID, Name: m.Name, Merged: merged, Err: err}
		}(i, m)
	}
	wg.Wait()

	// Status checks were parallel; archives are applied one at a time.
	for i := range results {
		r := &results[i]
		if r.Err != nil || !r.Merged {
			continue
		}
		if err := o.Archive(ctx, r.MinionID); err != nil {
			r.Err = err
			continue
		}
		r.Archived = true
	}
	return results, nil
}

// branchMerged reports whether the minion's branch is fully contained in
// the trunk branch. The check is bounded by the status timeout.
func (o *Orchestrator) branchMerged(ctx context.Context, m *minion.Minion) (bool, error) {
	timeout := o.config().Runtime.StatusTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rt, err := runtime.New(m.Runtime, o.logger)
	if err != nil {
		return false, err
	}

	trunk := m.Runtime.TrunkBranch
	if trunk == "" {
		trunk = "main"
	}
	res, err := rt.Exec(ctx, m, "git", "merge-base", "--is-ancestor", "HEAD", trunk)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("merge check failed: %s", strings.TrimSpace(res.Stderr))
	}
}

func (o *Orchestrator) isRemoving(minionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.removing[minionID]
}
