// Package provision tracks the asynchronous, cancellable "bring minion to
// ready" background work: post-create setup plus init hooks. The tracker
// owns one cancellation token per minion; abort clears tracker state
// immediately rather than waiting for the aborted work to acknowledge, so
// UI-facing "initializing" flags cannot get stuck.
package provision

import (
	"context"
	"sync"
	"time"

	"github.com/legion-dev/legion/internal/logging"
)

// LogLine is one captured line of provisioning output.
type LogLine struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// initState is the in-flight record for one minion.
type initState struct {
	cancel context.CancelFunc
	done   chan struct{}
	logs   []LogLine
}

// Tracker tracks background provisioning per minion. Safe for concurrent use.
type Tracker struct {
	logger *logging.Logger

	mu     sync.Mutex
	active map[string]*initState
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Tracker{logger: logger, active: make(map[string]*initState)}
}

// StartInit begins tracking provisioning for a minion and returns the
// context the background work must run under. Starting while an init is
// already tracked aborts the previous one first.
func (t *Tracker) StartInit(minionID string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if prev, ok := t.active[minionID]; ok {
		prev.cancel()
	}
	t.active[minionID] = &initState{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.mu.Unlock()

	t.logger.Debug("init tracking started", "minion_id", minionID)
	return ctx
}

// IsInitializing reports whether provisioning is tracked for the minion.
func (t *Tracker) IsInitializing(minionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[minionID]
	return ok
}

// Log captures one line of provisioning output.
// A line arriving after the state was cleared is dropped.
func (t *Tracker) Log(minionID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.active[minionID]
	if !ok {
		return
	}
	st.logs = append(st.logs, LogLine{Text: text, At: time.Now()})
}

// Logs returns the captured output for an in-flight init.
func (t *Tracker) Logs(minionID string) []LogLine {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.active[minionID]
	if !ok {
		return nil
	}
	return append([]LogLine(nil), st.logs...)
}

// LogComplete marks provisioning finished and clears tracker state. It is a
// no-op if state was already cleared; a late callback from cancelled work
// must not re-create stale state.
func (t *Tracker) LogComplete(minionID string) {
	t.mu.Lock()
	st, ok := t.active[minionID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, minionID)
	t.mu.Unlock()

	close(st.done)
	st.cancel()
	t.logger.Debug("init complete", "minion_id", minionID)
}

// Abort cancels in-flight provisioning and clears tracker state
// immediately, without waiting for the aborted work to acknowledge.
// Safe to call when nothing is tracked.
func (t *Tracker) Abort(minionID string) {
	t.mu.Lock()
	st, ok := t.active[minionID]
	if ok {
		delete(t.active, minionID)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	st.cancel()
	close(st.done)
	t.logger.Debug("init aborted", "minion_id", minionID)
}

// Wait blocks until provisioning for the minion completes, is aborted, or
// the context is done. Returns immediately when nothing is tracked.
func (t *Tracker) Wait(ctx context.Context, minionID string) error {
	t.mu.Lock()
	st, ok := t.active[minionID]
	t.mu.Unlock()

	if !ok {
		return nil
	}
	select {
	case <-st.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
