package taskcoord

import (
	"context"
	"testing"
	"time"

	"github.com/legion-dev/legion/internal/minion"
)

func TestEnqueueAndIsQueued(t *testing.T) {
	c := NewCoordinator(2, nil)

	c.Enqueue("t1", "m1", "parent")
	if !c.IsQueued("m1") {
		t.Error("IsQueued(m1) = false after Enqueue")
	}
	if c.IsQueued("m2") {
		t.Error("IsQueued(m2) = true for unknown minion")
	}

	if err := c.AcquireSlot(context.Background(), "t1"); err != nil {
		t.Fatalf("AcquireSlot: %v", err)
	}
	if c.IsQueued("m1") {
		t.Error("IsQueued(m1) = true after slot acquired")
	}
}

func TestAcquireSlotBlocksAtLimit(t *testing.T) {
	c := NewCoordinator(1, nil)
	c.Enqueue("t1", "m1", "p")
	c.Enqueue("t2", "m2", "p")

	if err := c.AcquireSlot(context.Background(), "t1"); err != nil {
		t.Fatalf("AcquireSlot t1: %v", err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- c.AcquireSlot(context.Background(), "t2") }()

	select {
	case err := <-acquired:
		t.Fatalf("AcquireSlot t2 returned %v before a slot freed", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := c.ReleaseSlot("t1"); err != nil {
		t.Fatalf("ReleaseSlot t1: %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("AcquireSlot t2 after release: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AcquireSlot t2 never woke up")
	}
	if c.Running() != 1 {
		t.Errorf("Running = %d, want 1", c.Running())
	}
}

func TestAcquireSlotContextCancel(t *testing.T) {
	c := NewCoordinator(1, nil)
	c.Enqueue("t1", "m1", "p")
	c.Enqueue("t2", "m2", "p")

	if err := c.AcquireSlot(context.Background(), "t1"); err != nil {
		t.Fatalf("AcquireSlot t1: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	acquired := make(chan error, 1)
	go func() { acquired <- c.AcquireSlot(ctx, "t2") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-acquired:
		if err != context.Canceled {
			t.Errorf("AcquireSlot = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter never returned")
	}
}

func TestStatusTransitions(t *testing.T) {
	c := NewCoordinator(2, nil)
	c.Enqueue("t1", "m1", "p")

	if err := c.ReleaseSlot("t1"); err != ErrInvalidTransition {
		t.Errorf("ReleaseSlot on queued task = %v, want ErrInvalidTransition", err)
	}
	if err := c.MarkReported("t1"); err != ErrInvalidTransition {
		t.Errorf("MarkReported on queued task = %v, want ErrInvalidTransition", err)
	}
	if err := c.AcquireSlot(context.Background(), "missing"); err != ErrTaskNotFound {
		t.Errorf("AcquireSlot on unknown task = %v, want ErrTaskNotFound", err)
	}

	if err := c.AcquireSlot(context.Background(), "t1"); err != nil {
		t.Fatalf("AcquireSlot: %v", err)
	}
	if err := c.ReleaseSlot("t1"); err != nil {
		t.Fatalf("ReleaseSlot: %v", err)
	}
	task, ok := c.Task("t1")
	if !ok || task.Status != minion.TaskAwaitingReport {
		t.Errorf("task after release = %+v", task)
	}
	if err := c.MarkReported("t1"); err != nil {
		t.Fatalf("MarkReported: %v", err)
	}
	task, _ = c.Task("t1")
	if task.Status != minion.TaskReported {
		t.Errorf("task status = %q, want reported", task.Status)
	}
}

func TestInterruptFreesSlotAndWakesWaiter(t *testing.T) {
	c := NewCoordinator(1, nil)
	c.Enqueue("t1", "m1", "p")
	c.Enqueue("t2", "m2", "p")

	if err := c.AcquireSlot(context.Background(), "t1"); err != nil {
		t.Fatalf("AcquireSlot t1: %v", err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- c.AcquireSlot(context.Background(), "t2") }()
	time.Sleep(20 * time.Millisecond)

	c.Interrupt("t1")

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("AcquireSlot t2 after interrupt: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by interrupt")
	}
	task, _ := c.Task("t1")
	if task.Status != minion.TaskInterrupted {
		t.Errorf("t1 status = %q, want interrupted", task.Status)
	}
}

func TestInterruptedWaiterGetsError(t *testing.T) {
	c := NewCoordinator(1, nil)
	c.Enqueue("t1", "m1", "p")
	c.Enqueue("t2", "m2", "p")

	if err := c.AcquireSlot(context.Background(), "t1"); err != nil {
		t.Fatalf("AcquireSlot t1: %v", err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- c.AcquireSlot(context.Background(), "t2") }()
	time.Sleep(20 * time.Millisecond)

	// Interrupting the waiting task itself makes its acquire fail.
	c.Interrupt("t2")

	select {
	case err := <-acquired:
		if err != ErrInvalidTransition {
			t.Errorf("AcquireSlot after own interrupt = %v, want ErrInvalidTransition", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted waiter never returned")
	}
}

func TestInterruptDescendants(t *testing.T) {
	minions := map[string]*minion.Minion{
		"root":  {ID: "root"},
		"mid":   {ID: "mid", ParentID: "root"},
		"leaf":  {ID: "leaf", ParentID: "mid"},
		"other": {ID: "other"},
	}
	lookup := func(id string) (*minion.Minion, bool) {
		m, ok := minions[id]
		return m, ok
	}

	c := NewCoordinator(4, nil)
	c.Enqueue("t-mid", "mid", "root")
	c.Enqueue("t-leaf", "leaf", "mid")
	c.Enqueue("t-other", "other", "")

	got := c.InterruptDescendants("root", lookup)
	if len(got) != 2 {
		t.Fatalf("interrupted %v, want mid and leaf", got)
	}
	if task, _ := c.Task("t-other"); task.Status != minion.TaskQueued {
		t.Errorf("unrelated task interrupted: %+v", task)
	}
	if task, _ := c.Task("t-leaf"); task.Status != minion.TaskInterrupted {
		t.Errorf("leaf task not interrupted: %+v", task)
	}
}

func TestNotifyRemoved(t *testing.T) {
	c := NewCoordinator(1, nil)
	c.Enqueue("t1", "m1", "p")
	if err := c.AcquireSlot(context.Background(), "t1"); err != nil {
		t.Fatalf("AcquireSlot: %v", err)
	}

	c.NotifyRemoved("m1")

	if _, ok := c.Task("t1"); ok {
		t.Error("task still tracked after NotifyRemoved")
	}
	if c.Running() != 0 {
		t.Errorf("Running = %d after NotifyRemoved, want 0", c.Running())
	}
	c.NotifyRemoved("m1")
}
