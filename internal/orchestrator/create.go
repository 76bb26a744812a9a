package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legion-dev/legion/internal/config"
	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/event"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/namer"
	"github.com/legion-dev/legion/internal/runtime"
	"github.com/legion-dev/legion/internal/session"
)

// nameCollisionRetries is how many suffixed variants are tried when the
// requested name is taken before giving up.
const nameCollisionRetries = 3

// CreateRequest describes a new minion.
type CreateRequest struct {
	Name        string
	Title       string
	ProjectPath string
	Runtime     minion.RuntimeConfig
	ParentID    string
	CrewID      string

	// TaskStatus marks the minion as a coordinator-driven sub-task.
	TaskStatus minion.TaskStatus

	// InitCommand, when set, runs in the fresh working copy as an abortable
	// background provisioning step after the minion is persisted.
	InitCommand []string
}

// Create provisions a working copy, persists the minion, and kicks off any
// background provisioning. The returned minion is already visible to every
// other operation.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*minion.Minion, error) {
	if err := namer.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if req.ProjectPath == "" {
		return nil, errors.NewValidationError("projectPath", "project path is required")
	}
	if req.Runtime.Kind == "" {
		req.Runtime.Kind = minion.RuntimeKind(o.config().Runtime.DefaultKind)
	}
	if !req.Runtime.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownRuntimeKind, req.Runtime.Kind)
	}
	if req.ParentID != "" {
		if _, ok := o.lookup(req.ParentID); !ok {
			return nil, fmt.Errorf("parent %s: %w", req.ParentID, errors.ErrMinionNotFound)
		}
	}

	name, err := o.resolveName(req.ProjectPath, req.Name)
	if err != nil {
		return nil, err
	}

	m := &minion.Minion{
		ID:          uuid.NewString(),
		Name:        name,
		Title:       req.Title,
		ProjectPath: req.ProjectPath,
		Runtime:     req.Runtime,
		ParentID:    req.ParentID,
		TaskStatus:  req.TaskStatus,
		CrewID:      req.CrewID,
		CreatedAt:   time.Now(),
	}

	rt, err := runtime.New(m.Runtime, o.logger)
	if err != nil {
		return nil, err
	}

	if err := rt.CreateMinion(ctx, m); err != nil {
		return nil, errors.NewMinionError("failed to create working copy", err).WithMinionID(m.ID)
	}

	// Runtime hooks run between physical creation and persistence. A
	// failure in either rolls the working copy back.
	if fin, ok := rt.(runtime.ConfigFinalizer); ok {
		if err := fin.FinalizeConfig(ctx, m); err != nil {
			o.rollbackCreate(ctx, rt, m)
			return nil, errors.NewMinionError("failed to finalize runtime config", err).WithMinionID(m.ID)
		}
	}
	if val, ok := rt.(runtime.PersistValidator); ok {
		if err := val.ValidateBeforePersist(ctx, m); err != nil {
			o.rollbackCreate(ctx, rt, m)
			return nil, errors.NewMinionError("minion failed pre-persist validation", err).WithMinionID(m.ID)
		}
	}

	if err := os.MkdirAll(session.Dir(m.ProjectPath, m.ID), 0o755); err != nil {
		o.rollbackCreate(ctx, rt, m)
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	if err := o.store.Edit(func(reg *config.Registry) error {
		if _, taken := reg.FindByName(m.ProjectPath, m.Name); taken {
			return fmt.Errorf("%w: %s", errors.ErrMinionExists, m.Name)
		}
		reg.AddMinion(m)
		return nil
	}); err != nil {
		o.rollbackCreate(ctx, rt, m)
		return nil, err
	}

	o.logger.WithMinion(m.ID).Info("minion created",
		"name", m.Name, "runtime", string(m.Runtime.Kind), "parent", m.ParentID)
	o.emitMetadata(m.ID, m)

	if len(req.InitCommand) > 0 {
		o.startInit(rt, m, req.InitCommand)
	}
	return m, nil
}

// resolveName returns the requested name or, when taken, a suffixed variant.
// Each retry appends a fresh random 4-character suffix to the original name.
func (o *Orchestrator) resolveName(projectPath, name string) (string, error) {
	reg, err := o.store.Load()
	if err != nil {
		return "", err
	}
	if _, taken := reg.FindByName(projectPath, name); !taken {
		return name, nil
	}
	for i := 0; i < nameCollisionRetries; i++ {
		candidate := name + "-" + namer.RandomSuffix()
		if _, taken := reg.FindByName(projectPath, candidate); !taken {
			o.logger.Debug("minion name taken, using suffixed variant",
				"requested", name, "resolved", candidate)
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s (and %d suffixed variants)", errors.ErrMinionExists, name, nameCollisionRetries)
}

// rollbackCreate tears down a partially created working copy. Best effort;
// failures are logged, not returned, since the create already failed.
func (o *Orchestrator) rollbackCreate(ctx context.Context, rt runtime.Runtime, m *minion.Minion) {
	if err := rt.DeleteMinion(ctx, m); err != nil {
		o.logger.WithMinion(m.ID).Warn("rollback of partial working copy failed", "error", err)
	}
	if err := os.RemoveAll(session.Dir(m.ProjectPath, m.ID)); err != nil {
		o.logger.WithMinion(m.ID).Warn("rollback of session directory failed", "error", err)
	}
}

// startInit launches background provisioning under the init tracker. The
// returned context is canceled when the minion is removed or init is
// aborted, and the command stops with it.
func (o *Orchestrator) startInit(rt runtime.Runtime, m *minion.Minion, command []string) {
	initCtx := o.tracker.StartInit(m.ID)
	o.emitActivity(m.ID, event.ActivityInitStarted, false, nil)

	go func() {
		log := o.logger.WithMinion(m.ID)
		o.tracker.Log(m.ID, "$ "+strings.Join(command, " "))

		res, err := rt.Exec(initCtx, m, command[0], command[1:]...)
		switch {
		case err != nil:
			o.tracker.Log(m.ID, fmt.Sprintf("init failed: %v", err))
			log.Warn("minion init failed", "error", err)
		case res.ExitCode != 0:
			o.tracker.Log(m.ID, fmt.Sprintf("init exited %d", res.ExitCode))
			if res.Stderr != "" {
				o.tracker.Log(m.ID, res.Stderr)
			}
			log.Warn("minion init exited nonzero", "exit", res.ExitCode)
		default:
			if res.Stdout != "" {
				o.tracker.Log(m.ID, res.Stdout)
			}
			o.tracker.Log(m.ID, "init complete")
		}

		o.tracker.LogComplete(m.ID)
		o.emitActivity(m.ID, event.ActivityInitEnded, false, err)
	}()
}
