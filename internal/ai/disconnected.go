package ai

import (
	"context"
	"fmt"
)

// Disconnected is a Service with no engine behind it. Every stream call
// fails with a uniform error; lifecycle operations that merely ask whether
// a stream exists keep working. Used when the process runs without a model
// backend attached.
type Disconnected struct{}

var _ Service = Disconnected{}

func (Disconnected) err() error {
	return fmt.Errorf("no model engine attached")
}

func (d Disconnected) StartStream(context.Context, StreamRequest) error { return d.err() }
func (d Disconnected) StopStream(context.Context, string) error         { return d.err() }
func (d Disconnected) ResumeStream(context.Context, string) error       { return d.err() }
func (d Disconnected) AnswerToolCall(context.Context, string, string, string) error {
	return d.err()
}
func (Disconnected) IsStreaming(string) bool                      { return false }
func (Disconnected) MinionMetadata(string) (MinionMetadata, bool) { return MinionMetadata{}, false }
func (Disconnected) SetEventHandler(func(Event))                  {}
