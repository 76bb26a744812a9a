package orchestrator

import (
	"fmt"

	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/plan"
	"github.com/legion-dev/legion/internal/session"
)

// LoadPlan returns a minion's plan, or nil when it has none.
func (o *Orchestrator) LoadPlan(minionID string) (*plan.Plan, error) {
	m, ok := o.lookup(minionID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	return plan.Load(session.PlanPath(m.ProjectPath, m.ID))
}

// SavePlan writes a minion's plan.
func (o *Orchestrator) SavePlan(minionID string, p *plan.Plan) error {
	m, ok := o.lookup(minionID)
	if !ok {
		return fmt.Errorf("%s: %w", minionID, errors.ErrMinionNotFound)
	}
	if o.isRemoving(minionID) {
		return fmt.Errorf("%s: %w", minionID, errors.ErrRemovalInProgress)
	}
	return plan.Save(session.PlanPath(m.ProjectPath, m.ID), p)
}

// SetPlanStatus advances a minion's plan through its lifecycle.
func (o *Orchestrator) SetPlanStatus(minionID string, status plan.Status) error {
	if !status.Valid() {
		return errors.NewValidationError("status", fmt.Sprintf("unknown plan status %q", status))
	}
	p, err := o.LoadPlan(minionID)
	if err != nil {
		return err
	}
	if p == nil {
		return errors.NewValidationError("plan", "minion has no plan")
	}
	p.Status = status
	return o.SavePlan(minionID, p)
}
