package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/history"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/namer"
	"github.com/legion-dev/legion/internal/runtime"
	"github.com/legion-dev/legion/internal/session"
)

// forkedFiles are the session files a fork inherits from its source.
var forkedFiles = []string{
	history.ChatFileName,
	history.PartialFileName,
	session.TimingFileName,
	session.UsageFileName,
	session.PlanFileName,
}

// Fork creates a sibling of a minion that continues its conversation: a
// fresh working copy with the source's history, partial, timing, usage,
// and plan copied in. An empty newName gets the next {base}-fork-{n}
// number; an explicit name must be free. The source is untouched. A
// failed session copy rolls the new minion back entirely.
func (o *Orchestrator) Fork(ctx context.Context, sourceID, newName string) (*minion.Minion, error) {
	lock := o.opLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	src, ok := o.lookup(sourceID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", sourceID, errors.ErrMinionNotFound)
	}
	if src.Archived() {
		return nil, fmt.Errorf("%s: %w", src.Name, errors.ErrMinionArchived)
	}
	if o.isRemoving(sourceID) {
		return nil, fmt.Errorf("%s: %w", sourceID, errors.ErrRemovalInProgress)
	}

	reg, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	name := newName
	if name == "" {
		// Fork numbering consults both registered siblings and live
		// branches, so a branch left behind by an orphaned worktree is
		// never reused.
		taken := reg.Siblings(src.ProjectPath)
		rt, err := runtime.New(src.Runtime, o.logger)
		if err != nil {
			return nil, err
		}
		if lister, ok := rt.(runtime.BranchLister); ok {
			branches, err := lister.LiveBranches(ctx, src.ProjectPath)
			if err != nil {
				o.logger.WithMinion(sourceID).Warn("could not list live branches for fork naming", "error", err)
			} else {
				taken = append(taken, branches...)
			}
		}
		name = namer.GenerateForkBranchName(src.Name, taken)
	} else {
		if err := namer.ValidateName(name); err != nil {
			return nil, err
		}
		if _, exists := reg.FindByName(src.ProjectPath, name); exists {
			return nil, fmt.Errorf("%w: %s", errors.ErrMinionExists, name)
		}
	}
	title := ""
	if src.Title != "" {
		title = namer.GenerateForkTitle(src.Title, reg.Titles(src.ProjectPath))
	}

	fork, err := o.Create(ctx, CreateRequest{
		Name:        name,
		Title:       title,
		ProjectPath: src.ProjectPath,
		Runtime:     src.Runtime,
		ParentID:    src.ParentID,
		CrewID:      src.CrewID,
	})
	if err != nil {
		return nil, err
	}

	srcDir := session.Dir(src.ProjectPath, src.ID)
	dstDir := session.Dir(fork.ProjectPath, fork.ID)
	if err := copySessionFiles(srcDir, dstDir); err != nil {
		if rmErr := o.Remove(ctx, fork.ID, RemoveOptions{Force: true, SkipRollup: true}); rmErr != nil {
			o.logger.WithMinion(fork.ID).Warn("fork rollback failed", "error", rmErr)
		}
		return nil, errors.NewMinionError("failed to copy session into fork", err).WithMinionID(fork.ID)
	}

	o.logger.WithMinion(fork.ID).Info("minion forked", "source", src.Name, "name", fork.Name)
	return fork, nil
}

func copySessionFiles(srcDir, dstDir string) error {
	for _, name := range forkedFiles {
		src := filepath.Join(srcDir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyFile(src, filepath.Join(dstDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
