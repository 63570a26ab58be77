// Package playbook implements the fleetplay execution engine: the ordered
// preparation pipeline (inputs -> uses -> nodes -> tasks), node discovery
// and validation, and the batched task dispatch orchestrator with its
// failure-handling policy.
package playbook

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an engine error for policy and reporting decisions.
type ErrorKind string

const (
	// KindValidation indicates bad or missing inputs. Validation errors
	// collect every violation found in one pass.
	KindValidation ErrorKind = "validation"

	// KindAgentUnavailable indicates a required RPC agent or action is not
	// available on the controller.
	KindAgentUnavailable ErrorKind = "agent_unavailable"

	// KindUndeclaredGroup indicates a reference to a node group that was
	// never declared.
	KindUndeclaredGroup ErrorKind = "undeclared_group"

	// KindMissingInput indicates a reference to an input that was never
	// declared or never resolved.
	KindMissingInput ErrorKind = "missing_input"

	// KindDispatch indicates one or more nodes failed or timed out during
	// an RPC batch. Dispatch errors are the only kind subject to the
	// playbook on_fail policy.
	KindDispatch ErrorKind = "dispatch"

	// KindNotFound indicates a lookup of an unknown key, such as a
	// metadata item.
	KindNotFound ErrorKind = "not_found"

	// KindUser indicates operator-facing misconfiguration, such as missing
	// credential files.
	KindUser ErrorKind = "user"
)

// Error is a classified playbook error with naming context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Context is the naming context (task or hook) active when the error
	// occurred, taken from the playbook context stack.
	Context string `json:"context,omitempty"`

	// Subject names the offending entity: the unknown key, the missing
	// agent, the undeclared group.
	Subject string `json:"subject,omitempty"`

	// Violations lists individual problems for validation errors so all
	// configuration issues surface together.
	Violations []string `json:"violations,omitempty"`

	// Nodes lists the failed node identifiers for dispatch errors.
	Nodes []string `json:"nodes,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Subject != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Subject)
	}
	if len(e.Violations) > 0 {
		msg = fmt.Sprintf("%s: %v", msg, e.Violations)
	}
	if e.Context != "" {
		msg = fmt.Sprintf("%s (in %s)", msg, e.Context)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Subject == "" || e.Subject == t.Subject)
}

// WithContext records the active naming context on the error.
func (e *Error) WithContext(context string) *Error {
	e.Context = context
	return e
}

// WithNodes records the failed node identifiers on a dispatch error.
func (e *Error) WithNodes(nodes []string) *Error {
	e.Nodes = nodes
	return e
}

// NewValidationError creates a validation error carrying every violation
// found.
func NewValidationError(message string, violations []string) *Error {
	return &Error{
		Kind:       KindValidation,
		Message:    message,
		Violations: violations,
	}
}

// NewAgentUnavailableError creates an error naming the first missing agent
// or action.
func NewAgentUnavailableError(subject string, err error) *Error {
	return &Error{
		Kind:    KindAgentUnavailable,
		Message: "agent is not available on this controller",
		Subject: subject,
		Err:     err,
	}
}

// NewUndeclaredGroupError creates an error naming a node group that was
// never declared.
func NewUndeclaredGroupError(group string) *Error {
	return &Error{
		Kind:    KindUndeclaredGroup,
		Message: "node group was not declared by this playbook",
		Subject: group,
	}
}

// NewMissingInputError creates an error naming an input that was never
// declared or resolved.
func NewMissingInputError(input string) *Error {
	return &Error{
		Kind:    KindMissingInput,
		Message: "input is not declared or has no value",
		Subject: input,
	}
}

// NewDispatchError creates an error describing a failed RPC batch.
func NewDispatchError(message string, nodes []string) *Error {
	return &Error{
		Kind:    KindDispatch,
		Message: message,
		Nodes:   nodes,
	}
}

// NewNotFoundError creates an error naming an unknown lookup key.
func NewNotFoundError(what, subject string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: what,
		Subject: subject,
	}
}

// NewUserError creates an operator-facing misconfiguration error.
func NewUserError(message string, err error) *Error {
	return &Error{
		Kind:    KindUser,
		Message: message,
		Err:     err,
	}
}

// IsKind reports whether err is a playbook error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsDispatch reports whether err is a dispatch failure, the only error
// kind subject to the on_fail policy during a run.
func IsDispatch(err error) bool {
	return IsKind(err, KindDispatch)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return IsKind(err, KindValidation)
}
