package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies automation failures.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindDisabledRule      ErrorKind = "disabled_rule"
	KindUnsupportedAction ErrorKind = "unsupported_action"
	KindUnsupportedStep   ErrorKind = "unsupported_step"
	KindInvalidConfig     ErrorKind = "invalid_config"
	KindHandler           ErrorKind = "handler_error"
	KindTimeout           ErrorKind = "timeout"
)

// AutomationError carries a kind alongside the underlying failure.
// Error() yields the underlying message unchanged so execution records store
// exactly what the handler raised.
type AutomationError struct {
	Kind        ErrorKind
	RuleID      uint
	ExecutionID string
	Message     string
	Err         error
}

func (e *AutomationError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AutomationError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class may be retried at all.
// Configuration errors never are.
func (e *AutomationError) Retryable() bool {
	switch e.Kind {
	case KindHandler, KindTimeout:
		return true
	default:
		return false
	}
}

func newError(kind ErrorKind, format string, args ...interface{}) *AutomationError {
	return &AutomationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindHandler for unclassified errors.
func KindOf(err error) ErrorKind {
	var ae *AutomationError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindHandler
}

// IsKind reports whether err is an AutomationError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *AutomationError
	return errors.As(err, &ae) && ae.Kind == kind
}
