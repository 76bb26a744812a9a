package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legion-dev/legion/internal/logging"
)

const (
	// ChatFileName is the append-only message log inside a session directory.
	ChatFileName = "chat.jsonl"
	// PartialFileName holds the uncommitted in-flight message.
	PartialFileName = "partial.json"
)

// Store is the append-only message log for one minion. It caches the full
// log in memory after the first read; every mutation is written through to
// disk before the cache is updated. Safe for concurrent use.
type Store struct {
	dir    string
	logger *logging.Logger

	mu      sync.Mutex
	loaded  bool
	msgs    []Message
	nextSeq int64
}

// NewStore creates a Store rooted at the minion's session directory.
func NewStore(dir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the session directory backing this store.
func (s *Store) Dir() string { return s.dir }

func (s *Store) chatPath() string    { return filepath.Join(s.dir, ChatFileName) }
func (s *Store) partialPath() string { return filepath.Join(s.dir, PartialFileName) }

// load reads chat.jsonl into the cache. Corrupt lines are skipped with a
// warning so one bad write cannot brick a minion's history.
func (s *Store) load() error {
	if s.loaded {
		return nil
	}

	f, err := os.Open(s.chatPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			s.nextSeq = 1
			return nil
		}
		return fmt.Errorf("failed to open chat log: %w", err)
	}
	defer f.Close()

	var msgs []Message
	var maxSeq int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("skipping corrupt chat log line", "line", line, "error", err)
			continue
		}
		if m.HistorySequence > maxSeq {
			maxSeq = m.HistorySequence
		}
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read chat log: %w", err)
	}

	s.msgs = msgs
	s.nextSeq = maxSeq + 1
	s.loaded = true
	return nil
}

// rewrite persists the full cached log atomically (temp file + rename).
func (s *Store) rewrite() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".chat-*")
	if err != nil {
		return fmt.Errorf("failed to create temp chat log: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for i := range s.msgs {
		if err := enc.Encode(&s.msgs[i]); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush chat log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync chat log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close chat log: %w", err)
	}
	if err := os.Rename(tmpPath, s.chatPath()); err != nil {
		return fmt.Errorf("failed to replace chat log: %w", err)
	}
	success = true
	return nil
}

// Append assigns sequence numbers and appends messages to the log.
// Returns the stored messages with sequences filled in.
func (s *Store) Append(msgs ...Message) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	f, err := os.OpenFile(s.chatPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	stored := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		m.HistorySequence = s.nextSeq
		s.nextSeq++
		if err := enc.Encode(&m); err != nil {
			return stored, fmt.Errorf("failed to append message: %w", err)
		}
		s.msgs = append(s.msgs, m)
		stored = append(stored, m)
	}
	return stored, nil
}

// Load returns the current working context: every message from the latest
// well-formed compaction boundary onward, boundary summary included. This
// is the default read path.
func (s *Store) Load() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	idx := LatestBoundaryIndex(s.msgs)
	if idx < 0 {
		return append([]Message(nil), s.msgs...), nil
	}
	return append([]Message(nil), s.msgs[idx:]...), nil
}

// LoadAll returns the entire log, spanning all epochs.
func (s *Store) LoadAll() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	return append([]Message(nil), s.msgs...), nil
}

// LoadOlder returns up to limit messages strictly older than the cursor
// sequence, newest-last, plus whether more remain below the returned
// window. The oldest returned sequence is the caller's next cursor.
//
// If the store believes more messages exist but none can be located below
// the cursor, pagination reports no-more rather than loop forever.
func (s *Store) LoadOlder(beforeSeq int64, limit int) ([]Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, false, err
	}

	var older []Message
	for i := range s.msgs {
		if s.msgs[i].HistorySequence > 0 && s.msgs[i].HistorySequence < beforeSeq {
			older = append(older, s.msgs[i])
		}
	}
	if len(older) == 0 {
		// Defensive stop: nothing older is locatable even if the raw log
		// has unsequenced entries.
		return nil, false, nil
	}
	if limit <= 0 || limit >= len(older) {
		return older, false, nil
	}
	window := older[len(older)-limit:]
	return append([]Message(nil), window...), true, nil
}

// MaxSequence returns the newest sequence number in the log, 0 when empty.
func (s *Store) MaxSequence() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return 0, err
	}
	var max int64
	for i := range s.msgs {
		if s.msgs[i].HistorySequence > max {
			max = s.msgs[i].HistorySequence
		}
	}
	return max, nil
}

// NextEpoch derives the next compaction epoch from the full log.
func (s *Store) NextEpoch() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return 0, err
	}
	return NextEpoch(s.msgs, s.logger), nil
}

// Truncate drops every message with a sequence strictly greater than
// afterSeq. Passing 0 clears the log entirely.
func (s *Store) Truncate(afterSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}

	kept := s.msgs[:0:0]
	for i := range s.msgs {
		if s.msgs[i].HistorySequence <= afterSeq {
			kept = append(kept, s.msgs[i])
		}
	}
	s.msgs = kept
	return s.rewrite()
}

// ReplaceAll destructively replaces the log with the given messages,
// re-sequencing them from 1.
func (s *Store) ReplaceAll(msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}

	s.msgs = nil
	s.nextSeq = 1
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		m.HistorySequence = s.nextSeq
		s.nextSeq++
		s.msgs = append(s.msgs, m)
	}
	return s.rewrite()
}

// AppendSummary appends a compacted summary carrying the next computed
// epoch and a boundary marker, without clearing prior messages. This is the
// append-with-compaction-boundary replacement mode.
func (s *Store) AppendSummary(summary Message, marker CompactedMarker) (Message, error) {
	s.mu.Lock()
	epoch := 0
	if err := s.load(); err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	epoch = NextEpoch(s.msgs, s.logger)
	s.mu.Unlock()

	summary.CompactionEpoch = epoch
	summary.CompactionBoundary = true
	summary.Compacted = marker

	stored, err := s.Append(summary)
	if err != nil {
		return Message{}, err
	}
	return stored[0], nil
}

// SavePartial persists the uncommitted in-flight message atomically.
func (s *Store) SavePartial(m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal partial message: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create temp partial: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write partial: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close partial: %w", err)
	}
	if err := os.Rename(tmpPath, s.partialPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace partial: %w", err)
	}
	return nil
}

// LoadPartial returns the uncommitted in-flight message, or nil when none
// exists.
func (s *Store) LoadPartial() (*Message, error) {
	data, err := os.ReadFile(s.partialPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read partial: %w", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse partial: %w", err)
	}
	return &m, nil
}

// ClearPartial removes the uncommitted in-flight message, if any.
func (s *Store) ClearPartial() error {
	if err := os.Remove(s.partialPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial: %w", err)
	}
	return nil
}
