package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Fake is a scripted Service for tests. Streams do nothing until the test
// fires engine events through the emit helpers; the orchestrator under
// test observes them exactly as it would real engine traffic.
type Fake struct {
	mu        sync.Mutex
	handler   func(Event)
	streaming map[string]bool
	metadata  map[string]MinionMetadata

	// Requests records every StartStream call in order.
	Requests []StreamRequest

	// StartErr, when set, is returned by StartStream.
	StartErr error

	// Answers records AnswerToolCall invocations as "minion/toolCall/answer".
	Answers []string
}

var _ Service = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		streaming: make(map[string]bool),
		metadata:  make(map[string]MinionMetadata),
	}
}

func (f *Fake) StartStream(_ context.Context, req StreamRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	if f.streaming[req.MinionID] {
		return fmt.Errorf("stream already active for %s", req.MinionID)
	}
	f.streaming[req.MinionID] = true
	f.Requests = append(f.Requests, req)
	return nil
}

func (f *Fake) StopStream(_ context.Context, minionID string) error {
	f.mu.Lock()
	active := f.streaming[minionID]
	f.mu.Unlock()
	if !active {
		return fmt.Errorf("no stream for %s", minionID)
	}
	f.EmitAbort(minionID)
	return nil
}

func (f *Fake) ResumeStream(_ context.Context, minionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streaming[minionID] {
		return fmt.Errorf("stream already active for %s", minionID)
	}
	f.streaming[minionID] = true
	return nil
}

func (f *Fake) AnswerToolCall(_ context.Context, minionID, toolCallID, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Answers = append(f.Answers, minionID+"/"+toolCallID+"/"+answer)
	return nil
}

func (f *Fake) IsStreaming(minionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming[minionID]
}

func (f *Fake) MinionMetadata(minionID string) (MinionMetadata, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, ok := f.metadata[minionID]
	return md, ok
}

func (f *Fake) SetEventHandler(handler func(Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *Fake) emit(ev Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// EmitStart fires a stream-start event.
func (f *Fake) EmitStart(minionID, model string) {
	f.mu.Lock()
	f.metadata[minionID] = MinionMetadata{Model: model}
	f.mu.Unlock()
	f.emit(StreamStart{MinionID: minionID, Model: model})
}

// EmitEnd fires a stream-end event and clears the streaming flag.
func (f *Fake) EmitEnd(minionID string, metadata json.RawMessage) {
	f.mu.Lock()
	delete(f.streaming, minionID)
	f.mu.Unlock()
	f.emit(StreamEnd{MinionID: minionID, Metadata: metadata})
}

// EmitAbort fires a stream-abort event and clears the streaming flag.
func (f *Fake) EmitAbort(minionID string) {
	f.mu.Lock()
	delete(f.streaming, minionID)
	f.mu.Unlock()
	f.emit(StreamAbort{MinionID: minionID})
}

// EmitToolCallEnd fires a tool-call-end event.
func (f *Fake) EmitToolCallEnd(minionID, toolCallID, toolName string, result json.RawMessage) {
	f.emit(ToolCallEnd{MinionID: minionID, ToolCallID: toolCallID, ToolName: toolName, Result: result})
}

// EmitError fires a stream error and clears the streaming flag.
func (f *Fake) EmitError(minionID, message string) {
	f.mu.Lock()
	delete(f.streaming, minionID)
	f.mu.Unlock()
	f.emit(StreamError{MinionID: minionID, Message: message})
}
