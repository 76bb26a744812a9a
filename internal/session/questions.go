package session

import (
	"sync"
)

// PendingQuestion is a structured ask-user question awaiting an answer.
type PendingQuestion struct {
	MinionID   string
	ToolCallID string
	Question   string
	Answer     chan string
}

// QuestionManager tracks pending ask-user questions in memory. It is the
// fast path for answering; after a process restart its records are gone and
// callers fall back to locating the tool call in the partial message or in
// committed history.
type QuestionManager struct {
	mu      sync.Mutex
	pending map[string]*PendingQuestion // minionID -> question
}

// NewQuestionManager creates an empty QuestionManager.
func NewQuestionManager() *QuestionManager {
	return &QuestionManager{pending: make(map[string]*PendingQuestion)}
}

// Ask registers a pending question for a minion, replacing any previous one.
// The returned channel receives the answer; it is buffered so an answer
// never blocks the answering goroutine.
func (q *QuestionManager) Ask(minionID, toolCallID, question string) *PendingQuestion {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := &PendingQuestion{
		MinionID:   minionID,
		ToolCallID: toolCallID,
		Question:   question,
		Answer:     make(chan string, 1),
	}
	q.pending[minionID] = p
	return p
}

// Get returns the pending question for a minion, if any.
func (q *QuestionManager) Get(minionID string) (*PendingQuestion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[minionID]
	return p, ok
}

// Answer delivers an answer to the pending question matching the tool call.
// Returns false when no matching record exists (e.g. after a restart).
func (q *QuestionManager) Answer(minionID, toolCallID, answer string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.pending[minionID]
	if !ok || p.ToolCallID != toolCallID {
		return false
	}
	delete(q.pending, minionID)
	p.Answer <- answer
	return true
}

// Cancel drops the pending question for a minion, if any. Used when a new
// chat message supersedes the question.
func (q *QuestionManager) Cancel(minionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.pending[minionID]
	if !ok {
		return false
	}
	delete(q.pending, minionID)
	close(p.Answer)
	return true
}
