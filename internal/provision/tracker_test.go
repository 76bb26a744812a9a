package provision

import (
	"context"
	"testing"
	"time"
)

func TestStartInitTracksAndAborts(t *testing.T) {
	tr := NewTracker(nil)

	ctx := tr.StartInit("m1")
	if !tr.IsInitializing("m1") {
		t.Fatal("IsInitializing = false after StartInit")
	}
	if tr.IsInitializing("m2") {
		t.Error("unrelated minion reported initializing")
	}

	tr.Abort("m1")
	if tr.IsInitializing("m1") {
		t.Error("IsInitializing = true after Abort")
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("init context not cancelled by Abort")
	}
}

func TestStartInitReplacesPrior(t *testing.T) {
	tr := NewTracker(nil)

	first := tr.StartInit("m1")
	second := tr.StartInit("m1")

	select {
	case <-first.Done():
	default:
		t.Error("first init context not cancelled by restart")
	}
	select {
	case <-second.Done():
		t.Error("second init context cancelled prematurely")
	default:
	}
}

func TestLogCapture(t *testing.T) {
	tr := NewTracker(nil)
	tr.StartInit("m1")

	tr.Log("m1", "$ npm install")
	tr.Log("m1", "done")
	tr.Log("m2", "ignored")

	logs := tr.Logs("m1")
	if len(logs) != 2 || logs[0].Text != "$ npm install" || logs[1].Text != "done" {
		t.Errorf("Logs = %+v", logs)
	}
	if got := tr.Logs("m2"); got != nil {
		t.Errorf("Logs for untracked minion = %+v, want nil", got)
	}

	// Lines after completion are dropped.
	tr.LogComplete("m1")
	tr.Log("m1", "late")
	if got := tr.Logs("m1"); got != nil {
		t.Errorf("Logs after completion = %+v, want nil", got)
	}
}

func TestLogCompleteIdempotent(t *testing.T) {
	tr := NewTracker(nil)
	tr.StartInit("m1")
	tr.LogComplete("m1")
	tr.LogComplete("m1")
	tr.Abort("m1")
}

func TestWait(t *testing.T) {
	tr := NewTracker(nil)

	// Nothing tracked: returns immediately.
	if err := tr.Wait(context.Background(), "m1"); err != nil {
		t.Fatalf("Wait on untracked minion: %v", err)
	}

	tr.StartInit("m1")
	done := make(chan error, 1)
	go func() { done <- tr.Wait(context.Background(), "m1") }()

	time.Sleep(20 * time.Millisecond)
	tr.LogComplete("m1")

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait returned %v after completion", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after LogComplete")
	}
}

func TestWaitContextCancel(t *testing.T) {
	tr := NewTracker(nil)
	tr.StartInit("m1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tr.Wait(ctx, "m1"); err != context.Canceled {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}
