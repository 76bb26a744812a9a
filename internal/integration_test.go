// Package internal contains integration tests that verify the packages
// work together correctly: orchestrator lifecycle against a real registry
// file, engine event flow through the typed observer registries, and
// artifact rollup on child removal.
package internal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/legion-dev/legion/internal/ai"
	"github.com/legion-dev/legion/internal/config"
	"github.com/legion-dev/legion/internal/event"
	"github.com/legion-dev/legion/internal/history"
	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/orchestrator"
	"github.com/legion-dev/legion/internal/session"
	"github.com/legion-dev/legion/internal/taskcoord"
)

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *ai.Fake, string) {
	t.Helper()

	project := t.TempDir()
	cfg := &config.Config{}
	cfg.Session.StopStreamTimeout = 200 * time.Millisecond
	cfg.Session.HistoryPageSize = 50
	cfg.Runtime.DefaultKind = "local"
	cfg.Tasks.MaxRunning = 4
	cfg.Archive.Workers = 4

	engine := ai.NewFake()
	orch := orchestrator.New(orchestrator.Options{
		Store:       config.NewStore(filepath.Join(t.TempDir(), "projects.json")),
		Config:      cfg,
		Engine:      engine,
		Coordinator: taskcoord.NewCoordinator(cfg.Tasks.MaxRunning, logging.NopLogger()),
		Logger:      logging.NopLogger(),
	})
	t.Cleanup(orch.Close)
	return orch, engine, project
}

func TestCreateSendStreamLifecycle(t *testing.T) {
	orch, engine, project := newTestOrchestrator(t)
	ctx := context.Background()

	m, err := orch.Create(ctx, orchestrator.CreateRequest{
		Name:        "builder",
		ProjectPath: project,
		Runtime:     minion.RuntimeConfig{Kind: minion.RuntimeLocal},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var mu sync.Mutex
	var activity []event.ActivityKind
	orch.Events().Activity.Subscribe(func(e event.ActivityEvent) {
		mu.Lock()
		activity = append(activity, e.Kind)
		mu.Unlock()
	})

	if err := orch.SendMessage(ctx, m.ID, "hello", orchestrator.SendOptions{}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(engine.Requests) != 1 || engine.Requests[0].Text != "hello" {
		t.Fatalf("engine did not receive the message: %+v", engine.Requests)
	}

	engine.EmitStart(m.ID, "test-model")
	if got := orch.Session(m.ID).State(); got != session.StateStreaming {
		t.Errorf("state after stream start = %s, want %s", got, session.StateStreaming)
	}

	// A second send while streaming queues instead of starting a stream.
	if err := orch.SendMessage(ctx, m.ID, "and another", orchestrator.SendOptions{}); err != nil {
		t.Fatalf("queued SendMessage failed: %v", err)
	}
	if len(engine.Requests) != 1 {
		t.Fatalf("queued message reached the engine early")
	}

	engine.EmitEnd(m.ID, nil)

	// The queued message dispatches asynchronously after stream end.
	deadline := time.After(2 * time.Second)
	for {
		if len(engine.Requests) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queued message was never dispatched")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if engine.Requests[1].Text != "and another" {
		t.Errorf("dispatched queued text = %q", engine.Requests[1].Text)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawStart, sawEnd bool
	for _, k := range activity {
		switch k {
		case event.ActivityStreamStarted:
			sawStart = true
		case event.ActivityStreamEnded:
			sawEnd = true
		}
	}
	if !sawStart || !sawEnd {
		t.Errorf("activity events missing, got %v", activity)
	}
}

func TestRemoveRollsUpIntoParent(t *testing.T) {
	orch, _, project := newTestOrchestrator(t)
	ctx := context.Background()

	parent, err := orch.Create(ctx, orchestrator.CreateRequest{
		Name:        "parent",
		ProjectPath: project,
		Runtime:     minion.RuntimeConfig{Kind: minion.RuntimeLocal},
	})
	if err != nil {
		t.Fatalf("Create parent failed: %v", err)
	}
	child, err := orch.Create(ctx, orchestrator.CreateRequest{
		Name:        "child",
		ProjectPath: project,
		Runtime:     minion.RuntimeConfig{Kind: minion.RuntimeLocal},
		ParentID:    parent.ID,
	})
	if err != nil {
		t.Fatalf("Create child failed: %v", err)
	}

	childDir := session.Dir(project, child.ID)
	if err := session.SaveUsage(childDir, session.Usage{InputTokens: 100, OutputTokens: 40}); err != nil {
		t.Fatalf("SaveUsage failed: %v", err)
	}
	if err := session.SaveTiming(childDir, session.Timing{TotalStreamMs: 5000, TurnCount: 3}); err != nil {
		t.Fatalf("SaveTiming failed: %v", err)
	}

	removed := make(chan string, 1)
	orch.Events().Metadata.Subscribe(func(e event.MetadataEvent) {
		if e.Metadata == nil {
			removed <- e.MinionID
		}
	})

	if err := orch.Remove(ctx, child.ID, orchestrator.RemoveOptions{}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	select {
	case id := <-removed:
		if id != child.ID {
			t.Errorf("removal event for %s, want %s", id, child.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no removal metadata event")
	}

	// Removing again is an idempotent success.
	if err := orch.Remove(ctx, child.ID, orchestrator.RemoveOptions{}); err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}

	parentDir := session.Dir(project, parent.ID)
	usage, err := session.LoadUsage(parentDir)
	if err != nil {
		t.Fatalf("LoadUsage failed: %v", err)
	}
	if usage.InputTokens != 100 || usage.OutputTokens != 40 {
		t.Errorf("parent usage = %+v, want child totals folded in", usage)
	}
	timing, err := session.LoadTiming(parentDir)
	if err != nil {
		t.Fatalf("LoadTiming failed: %v", err)
	}
	if timing.TotalStreamMs != 5000 || timing.TurnCount != 3 {
		t.Errorf("parent timing = %+v, want child totals folded in", timing)
	}

	if _, err := orch.Get(child.ID); err == nil {
		t.Error("removed child still resolvable")
	}
}

func TestPartialCommitsOnStreamEnd(t *testing.T) {
	orch, engine, project := newTestOrchestrator(t)
	ctx := context.Background()

	m, err := orch.Create(ctx, orchestrator.CreateRequest{
		Name:        "writer",
		ProjectPath: project,
		Runtime:     minion.RuntimeConfig{Kind: minion.RuntimeLocal},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := orch.SendMessage(ctx, m.ID, "write something", orchestrator.SendOptions{}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	engine.EmitStart(m.ID, "test-model")

	// Simulate the engine persisting a partial before the stream ends.
	hist := orch.History(m)
	if err := hist.SavePartial(&history.Message{
		Role:  history.RoleAssistant,
		Parts: []history.Part{{Type: history.PartText, Text: "draft reply"}},
	}); err != nil {
		t.Fatalf("SavePartial failed: %v", err)
	}

	engine.EmitEnd(m.ID, []byte(`{"durationMs": 1200, "usage": {"inputTokens": 10, "outputTokens": 5}}`))

	msgs, err := orch.LoadHistory(m.ID)
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want user message plus committed partial", len(msgs))
	}
	if msgs[1].Role != history.RoleAssistant || msgs[1].Text() != "draft reply" {
		t.Errorf("committed partial = %+v", msgs[1])
	}

	timing, err := session.LoadTiming(session.Dir(project, m.ID))
	if err != nil {
		t.Fatalf("LoadTiming failed: %v", err)
	}
	if timing.TurnCount != 1 || timing.TotalStreamMs != 1200 {
		t.Errorf("timing = %+v", timing)
	}
}
