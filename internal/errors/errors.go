// Package errors provides centralized error definitions and error handling
// utilities for the Legion codebase. It defines domain-specific errors,
// semantic error kinds, error constructors with context wrapping, and
// classification helpers.
//
// # Error Kinds
//
// Every fallible orchestrator operation returns an error classified into one
// of five kinds:
//
//   - KindValidation: invalid input (name, model) rejected before side effects
//   - KindBusy: operation refused because the minion is renaming, removing,
//     archiving, or streaming; surfaced as a user-facing message
//   - KindCollaborator: a runtime, hook, or AI-service call failed
//   - KindBackground: a best-effort background step failed (rollup,
//     scrollback write); logged and swallowed by callers
//   - KindAssertion: invariant violation; callers should treat as fatal
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewMinionError("failed to delete runtime", cause).WithMinionID("abc123")
//	err := errors.NewValidationError("name", "contains path separator")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrMinionNotFound) { ... }
//	if errors.KindOf(err) == errors.KindBusy { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Kind classifies an error per the orchestrator's failure taxonomy.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindValidation is for invalid input rejected before any side effect.
	KindValidation
	// KindBusy is for operations refused due to a conflicting in-flight operation.
	KindBusy
	// KindCollaborator is for failures propagated from a runtime, hook, or AI service.
	KindCollaborator
	// KindBackground is for best-effort failures that never fail the primary operation.
	KindBackground
	// KindAssertion is for invariant violations that indicate a programming error.
	KindAssertion
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusy:
		return "busy"
	case KindCollaborator:
		return "collaborator"
	case KindBackground:
		return "background"
	case KindAssertion:
		return "assertion"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Minion lifecycle sentinel errors
var (
	// ErrMinionNotFound indicates that a minion could not be found.
	ErrMinionNotFound = New("minion not found")
	// ErrMinionExists indicates a name collision with an existing minion.
	ErrMinionExists = New("minion already exists")
	// ErrMinionReserved indicates an operation on the system-reserved minion.
	ErrMinionReserved = New("minion is reserved")
	// ErrRemovalInProgress indicates removal of the minion is already underway.
	ErrRemovalInProgress = New("minion removal in progress")
	// ErrRenameInProgress indicates a rename of the minion is already underway.
	ErrRenameInProgress = New("minion rename in progress")
	// ErrMinionArchived indicates the minion is archived.
	ErrMinionArchived = New("minion is archived")
)

// Session/streaming sentinel errors
var (
	// ErrSessionBusy indicates the minion has an active stream.
	ErrSessionBusy = New("session is busy")
	// ErrStreamNotActive indicates there is no stream to interrupt or resume.
	ErrStreamNotActive = New("no active stream")
	// ErrQueuedTask indicates the minion is a queued sub-task driven by the
	// task coordinator and cannot be messaged directly.
	ErrQueuedTask = New("minion is a queued task")
	// ErrStaleAnswer indicates a tool-call answer targeted a question that is
	// no longer the newest message in history.
	ErrStaleAnswer = New("tool call is not the most recent message")
	// ErrQuestionNotFound indicates no pending question matched the tool call.
	ErrQuestionNotFound = New("pending question not found")
	// ErrHistoryLocked indicates history mutation was refused during an active turn.
	ErrHistoryLocked = New("history cannot be modified during an active turn")
)

// Runtime sentinel errors
var (
	// ErrRuntimeNotReady indicates the minion's runtime is not provisioned.
	ErrRuntimeNotReady = New("runtime not ready")
	// ErrUnknownRuntimeKind indicates an unrecognized runtime discriminator.
	ErrUnknownRuntimeKind = New("unknown runtime kind")
	// ErrPathEscape indicates a path resolved outside its confinement root.
	ErrPathEscape = New("path escapes session directory")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	kind       Kind
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Kind returns the error classification.
func (e *baseError) Kind() Kind {
	return e.kind
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// kinder is implemented by classified errors.
type kinder interface {
	Kind() Kind
}

// KindOf returns the classification of err, walking the unwrap chain.
// Returns KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	for err != nil {
		if k, ok := err.(kinder); ok {
			return k.Kind()
		}
		err = errors.Unwrap(err)
	}
	return KindUnknown
}

// IsUserFacing reports whether err (or any wrapped error) is safe to display.
func IsUserFacing(err error) bool {
	type facing interface{ IsUserFacing() bool }
	for err != nil {
		if f, ok := err.(facing); ok {
			return f.IsUserFacing()
		}
		err = errors.Unwrap(err)
	}
	return false
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// MinionError represents errors from minion lifecycle operations.
//
// Example:
//
//	err := errors.NewMinionError("failed to delete runtime", cause).WithMinionID("abc123")
//	fmt.Println(err) // "minion error [minion=abc123]: failed to delete runtime: ..."
type MinionError struct {
	baseError
	MinionID string
}

// NewMinionError creates a new MinionError classified as a collaborator failure.
func NewMinionError(message string, cause error) *MinionError {
	return &MinionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			kind:       KindCollaborator,
			userFacing: true,
		},
	}
}

// WithMinionID adds a minion ID to the error context.
func (e *MinionError) WithMinionID(id string) *MinionError {
	e.MinionID = id
	return e
}

// WithKind sets the error classification.
func (e *MinionError) WithKind(k Kind) *MinionError {
	e.kind = k
	return e
}

// Error returns the formatted error message.
func (e *MinionError) Error() string {
	prefix := "minion error"
	if e.MinionID != "" {
		prefix = fmt.Sprintf("minion error [minion=%s]", e.MinionID)
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *MinionError) Is(target error) bool {
	if _, ok := target.(*MinionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BusyError represents an operation refused because a conflicting operation
// is in flight. It is always user-facing and never retryable mid-flight.
type BusyError struct {
	baseError
	MinionID  string
	Operation string // the operation holding the minion (e.g. "rename", "remove")
}

// NewBusyError creates a new BusyError.
func NewBusyError(minionID, operation string, cause error) *BusyError {
	return &BusyError{
		baseError: baseError{
			message:    fmt.Sprintf("minion is busy (%s)", operation),
			cause:      cause,
			kind:       KindBusy,
			userFacing: true,
		},
		MinionID:  minionID,
		Operation: operation,
	}
}

// Error returns the formatted error message.
func (e *BusyError) Error() string {
	prefix := fmt.Sprintf("busy [minion=%s, op=%s]", e.MinionID, e.Operation)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Is checks if this error matches the target.
func (e *BusyError) Is(target error) bool {
	if _, ok := target.(*BusyError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input rejected before any side effect.
type ValidationError struct {
	baseError
	Field string
}

// NewValidationError creates a new ValidationError for the named field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			cause:      ErrInvalidInput,
			kind:       KindValidation,
			userFacing: true,
		},
		Field: field,
	}
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.message)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// RollupError represents a best-effort artifact rollup failure. Callers log
// these and continue; they never fail the removal that triggered them.
type RollupError struct {
	baseError
	ParentID string
	ChildID  string
	Category string
}

// NewRollupError creates a new RollupError.
func NewRollupError(message string, cause error) *RollupError {
	return &RollupError{
		baseError: baseError{
			message: message,
			cause:   cause,
			kind:    KindBackground,
		},
	}
}

// WithIDs adds the parent and child minion IDs to the error context.
func (e *RollupError) WithIDs(parentID, childID string) *RollupError {
	e.ParentID = parentID
	e.ChildID = childID
	return e
}

// WithCategory adds the artifact category to the error context.
func (e *RollupError) WithCategory(category string) *RollupError {
	e.Category = category
	return e
}

// Error returns the formatted error message.
func (e *RollupError) Error() string {
	var parts []string
	if e.ParentID != "" {
		parts = append(parts, fmt.Sprintf("parent=%s", e.ParentID))
	}
	if e.ChildID != "" {
		parts = append(parts, fmt.Sprintf("child=%s", e.ChildID))
	}
	if e.Category != "" {
		parts = append(parts, fmt.Sprintf("category=%s", e.Category))
	}

	prefix := "rollup error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("rollup error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *RollupError) Is(target error) bool {
	if _, ok := target.(*RollupError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Assertions
// -----------------------------------------------------------------------------

// Assertf panics with a formatted message if cond is false. Reserved for
// invariant violations that indicate a programming error, never for
// recoverable conditions.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}
