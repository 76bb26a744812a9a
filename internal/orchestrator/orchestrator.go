// Package orchestrator is the minion session registry: the authoritative
// in-memory map of active sessions and the owner of every lifecycle and
// messaging operation. Each minion ID has a serial executor so mutually
// exclusive operations cannot interleave; chat, metadata, and activity
// events fan out to subscribers through typed registries.
package orchestrator

import (
	"sync"
	"time"

	"github.com/legion-dev/legion/internal/ai"
	"github.com/legion-dev/legion/internal/config"
	"github.com/legion-dev/legion/internal/event"
	"github.com/legion-dev/legion/internal/history"
	"github.com/legion-dev/legion/internal/logging"
	"github.com/legion-dev/legion/internal/minion"
	"github.com/legion-dev/legion/internal/namer"
	"github.com/legion-dev/legion/internal/provision"
	"github.com/legion-dev/legion/internal/rollup"
	"github.com/legion-dev/legion/internal/scrollback"
	"github.com/legion-dev/legion/internal/session"
	"github.com/legion-dev/legion/internal/taskcoord"
)

// ReservedMinionName is the system help minion, which is never removable.
const ReservedMinionName = "help"

// stopStreamWait is how long remove/archive wait for stream-stop
// confirmation before proceeding anyway.
const stopStreamWait = 5 * time.Second

// Hook runs around lifecycle transitions. Pre-archive hook failures abort
// the archive; post-unarchive hooks are best-effort.
type Hook func(m *minion.Minion) error

// Orchestrator owns the registry of live sessions and all operations
// against them.
type Orchestrator struct {
	store      *config.Store
	cfg        *config.Config
	engine     ai.Service
	tracker    *provision.Tracker
	coord      *taskcoord.Coordinator
	roller     *rollup.Roller
	scrollback *scrollback.Store
	hub        *event.Hub
	questions  *session.QuestionManager
	titles     namer.TitleClient
	logger     *logging.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	stores   map[string]*history.Store
	ops      map[string]*sync.Mutex // per-minion serial executor

	// Advisory in-flight markers for fast user-facing busy rejections.
	// Mutual exclusion itself comes from the per-minion executor; these
	// only shape error messages and the idempotent remove fast path.
	removing  map[string]bool
	renaming  map[string]bool
	archiving map[string]bool

	preArchiveHooks    []Hook
	postUnarchiveHooks []Hook
}

// Options configures a new Orchestrator.
type Options struct {
	Store       *config.Store
	Config      *config.Config
	Engine      ai.Service
	Coordinator *taskcoord.Coordinator
	Scrollback  *scrollback.Store
	TitleClient namer.TitleClient
	Logger      *logging.Logger
}

// New creates an Orchestrator and registers itself as the engine's event
// sink.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	o := &Orchestrator{
		store:      opts.Store,
		cfg:        opts.Config,
		engine:     opts.Engine,
		tracker:    provision.NewTracker(logger),
		coord:      opts.Coordinator,
		roller:     rollup.NewRoller(logger),
		scrollback: opts.Scrollback,
		hub:        event.NewHub(),
		questions:  session.NewQuestionManager(),
		titles:     opts.TitleClient,
		logger:     logger,
		sessions:   make(map[string]*session.Session),
		stores:     make(map[string]*history.Store),
		ops:        make(map[string]*sync.Mutex),
		removing:   make(map[string]bool),
		renaming:   make(map[string]bool),
		archiving:  make(map[string]bool),
	}

	if o.engine != nil {
		o.engine.SetEventHandler(o.handleEngineEvent)
	}
	return o
}

// Events returns the typed event hub for subscribers.
func (o *Orchestrator) Events() *event.Hub { return o.hub }

// ReloadConfig swaps in a freshly loaded configuration. Operations already
// in flight finish on the old values; subsequent ones read the new.
func (o *Orchestrator) ReloadConfig(cfg *config.Config) {
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
}

// config returns the current configuration snapshot.
func (o *Orchestrator) config() *config.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Tracker exposes the init tracker (for UI "initializing" flags).
func (o *Orchestrator) Tracker() *provision.Tracker { return o.tracker }

// OnPreArchive registers a pre-archive hook. A hook failure aborts the
// archive before anything is persisted.
func (o *Orchestrator) OnPreArchive(h Hook) {
	o.preArchiveHooks = append(o.preArchiveHooks, h)
}

// OnPostUnarchive registers a post-unarchive hook. Failures are logged and
// never fail the unarchive.
func (o *Orchestrator) OnPostUnarchive(h Hook) {
	o.postUnarchiveHooks = append(o.postUnarchiveHooks, h)
}

// opLock returns the serial executor for a minion ID, creating it lazily.
// Lifecycle operations run under this lock so two conflicting operations
// on the same minion are structurally unable to interleave.
func (o *Orchestrator) opLock(minionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.ops[minionID]
	if !ok {
		l = &sync.Mutex{}
		o.ops[minionID] = l
	}
	return l
}

// Session returns the live session for a minion, creating it lazily. A
// session's absence never implies the minion is gone.
func (o *Orchestrator) Session(minionID string) *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[minionID]
	if !ok || s.Disposed() {
		s = session.New(minionID)
		o.sessions[minionID] = s
	}
	return s
}

// History returns the history store for a minion, creating it lazily.
func (o *Orchestrator) History(m *minion.Minion) *history.Store {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.stores[m.ID]
	if !ok {
		st = history.NewStore(session.Dir(m.ProjectPath, m.ID), o.logger.WithMinion(m.ID))
		o.stores[m.ID] = st
	}
	return st
}

// lookup resolves a minion from the persisted registry.
func (o *Orchestrator) lookup(minionID string) (*minion.Minion, bool) {
	reg, err := o.store.Load()
	if err != nil {
		o.logger.Error("failed to load registry", "error", err)
		return nil, false
	}
	return reg.FindMinion(minionID)
}

// lookupFn adapts lookup to the minion.Lookup signature.
func (o *Orchestrator) lookupFn() minion.Lookup {
	reg, err := o.store.Load()
	if err != nil {
		return func(string) (*minion.Minion, bool) { return nil, false }
	}
	return func(id string) (*minion.Minion, bool) { return reg.FindMinion(id) }
}

// disposeSession drops a minion's session, store cache, and executor.
func (o *Orchestrator) disposeSession(minionID string) {
	o.mu.Lock()
	s, ok := o.sessions[minionID]
	delete(o.sessions, minionID)
	delete(o.stores, minionID)
	delete(o.ops, minionID)
	o.mu.Unlock()

	if ok {
		s.Dispose()
	}
	o.questions.Cancel(minionID)
}

// emitMetadata publishes a fresh metadata snapshot for a minion; a nil
// snapshot signals removal.
func (o *Orchestrator) emitMetadata(minionID string, m *minion.Minion) {
	var md map[string]any
	if m != nil {
		md = map[string]any{
			"name":        m.Name,
			"title":       m.Title,
			"projectPath": m.ProjectPath,
			"runtime":     string(m.Runtime.Kind),
			"parentId":    m.ParentID,
			"taskStatus":  string(m.TaskStatus),
			"crewId":      m.CrewID,
			"archived":    m.Archived(),
		}
	}
	o.hub.Metadata.Publish(event.MetadataEvent{
		MinionID: minionID,
		Metadata: md,
		At:       time.Now(),
	})
}

func (o *Orchestrator) emitActivity(minionID string, kind event.ActivityKind, compaction bool, err error) {
	o.hub.Activity.Publish(event.ActivityEvent{
		MinionID:   minionID,
		Kind:       kind,
		Compaction: compaction,
		Err:        err,
		At:         time.Now(),
	})
}

func (o *Orchestrator) emitChat(minionID string, kind event.ChatKind, seq int64, delta string) {
	o.hub.Chat.Publish(event.ChatEvent{
		MinionID: minionID,
		Kind:     kind,
		Sequence: seq,
		Delta:    delta,
		At:       time.Now(),
	})
}

// Close disposes every live session. Minions themselves are untouched.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	sessions := make([]*session.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.sessions = make(map[string]*session.Session)
	o.stores = make(map[string]*history.Store)
	o.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
}
