// Package taskcoord manages concurrency slots for sub-agent task minions
// (sidekicks) spawned by a parent. Tasks wait in a queued state until a
// running slot frees up; the coordinator is informed of interrupts and
// removals so queued tasks never auto-resume a parent that was stopped.
package taskcoord

import (
	"context"
	"sync"
	"time"

	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/minion"
)

// Sentinel errors returned by coordinator operations.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Task is one tracked sub-agent task.
type Task struct {
	TaskID   string
	MinionID string
	ParentID string
	Status   minion.TaskStatus

	EnqueuedAt time.Time
	StartedAt  *time.Time
}

// Coordinator tracks sub-agent tasks and their running slots.
// All methods are safe for concurrent use via an internal mutex.
type Coordinator struct {
	logger *logging.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	tasks map[string]*Task // taskID -> task
	order []string         // task IDs in enqueue order

	limit   int // maximum running tasks, > 0
	running int
}

// NewCoordinator creates a Coordinator with the given running-slot limit.
// Panics if limit is not positive (programmer error).
func NewCoordinator(limit int, logger *logging.Logger) *Coordinator {
	errors.Assertf(limit > 0, "task coordinator limit must be positive, got %d", limit)
	if logger == nil {
		logger = logging.NopLogger()
	}
	c := &Coordinator{
		logger: logger,
		tasks:  make(map[string]*Task),
		limit:  limit,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Enqueue registers a new sub-agent task in the queued state.
func (c *Coordinator) Enqueue(taskID, minionID, parentID string) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &Task{
		TaskID:     taskID,
		MinionID:   minionID,
		ParentID:   parentID,
		Status:     minion.TaskQueued,
		EnqueuedAt: time.Now(),
	}
	c.tasks[taskID] = t
	c.order = append(c.order, taskID)
	c.logger.Debug("task enqueued", "task_id", taskID, "minion_id", minionID)
	return t
}

// IsQueued reports whether the minion is a queued sub-task awaiting a slot.
// Queued tasks must be driven through the coordinator, never messaged
// directly.
func (c *Coordinator) IsQueued(minionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.tasks {
		if t.MinionID == minionID && t.Status == minion.TaskQueued {
			return true
		}
	}
	return false
}

// AcquireSlot blocks until a running slot is free or the context is done,
// then transitions the task to running. The wait is condition-variable
// based; context cancellation wakes blocked waiters.
func (c *Coordinator) AcquireSlot(ctx context.Context, taskID string) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.cond.Broadcast()
		case <-done:
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != minion.TaskQueued {
		return ErrInvalidTransition
	}

	for c.running >= c.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
		// Re-fetch: the task may have been interrupted while waiting.
		t, ok = c.tasks[taskID]
		if !ok {
			return ErrTaskNotFound
		}
		if t.Status != minion.TaskQueued {
			return ErrInvalidTransition
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	t.Status = minion.TaskRunning
	t.StartedAt = &now
	c.running++
	return nil
}

// ReleaseSlot frees the task's running slot, transitioning it to
// awaiting-report.
func (c *Coordinator) ReleaseSlot(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != minion.TaskRunning {
		return ErrInvalidTransition
	}
	t.Status = minion.TaskAwaitingReport
	c.releaseLocked()
	return nil
}

// MarkReported transitions an awaiting-report task to reported.
func (c *Coordinator) MarkReported(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != minion.TaskAwaitingReport {
		return ErrInvalidTransition
	}
	t.Status = minion.TaskReported
	return nil
}

// Interrupt terminates a task (and frees its slot when running). Used by
// hard interrupts cascading down from a parent so descendants cannot later
// auto-resume it.
func (c *Coordinator) Interrupt(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interruptLocked(taskID)
}

// InterruptDescendants cascade-terminates every task whose minion descends
// from the given parent minion. Returns the interrupted minion IDs.
func (c *Coordinator) InterruptDescendants(parentMinionID string, lookup minion.Lookup) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var interrupted []string
	for _, id := range c.order {
		t, ok := c.tasks[id]
		if !ok || t.Status == minion.TaskInterrupted || t.Status == minion.TaskReported {
			continue
		}
		if !descendsFrom(t, parentMinionID, lookup) {
			continue
		}
		c.interruptLocked(id)
		interrupted = append(interrupted, t.MinionID)
	}
	return interrupted
}

// NotifyRemoved drops all tasks belonging to a removed minion and frees
// any held slot.
func (c *Coordinator) NotifyRemoved(minionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, t := range c.tasks {
		if t.MinionID != minionID {
			continue
		}
		if t.Status == minion.TaskRunning {
			c.releaseLocked()
		}
		delete(c.tasks, id)
	}
	c.cond.Broadcast()
}

// Task returns a snapshot of one task.
func (c *Coordinator) Task(taskID string) (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Running returns the number of occupied slots.
func (c *Coordinator) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) interruptLocked(taskID string) {
	t, ok := c.tasks[taskID]
	if !ok {
		return
	}
	if t.Status == minion.TaskRunning {
		c.releaseLocked()
	}
	t.Status = minion.TaskInterrupted
	c.logger.Debug("task interrupted", "task_id", taskID, "minion_id", t.MinionID)
	c.cond.Broadcast()
}

func (c *Coordinator) releaseLocked() {
	if c.running > 0 {
		c.running--
	}
	c.cond.Signal()
}

// descendsFrom reports whether the task's minion is the parent itself or
// one of its descendants, walking parent pointers with a cycle guard.
func descendsFrom(t *Task, parentMinionID string, lookup minion.Lookup) bool {
	if t.ParentID == parentMinionID || t.MinionID == parentMinionID {
		return true
	}
	m, ok := lookup(t.MinionID)
	if !ok {
		return false
	}
	for _, ancestor := range minion.Ancestors(m, lookup) {
		if ancestor == parentMinionID {
			return true
		}
	}
	return false
}
