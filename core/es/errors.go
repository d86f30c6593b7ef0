package es

import (
	"errors"
	"fmt"
)

var (
	ErrConcurrencyConflict   = errors.New("concurrency conflict")
	ErrAggregateNotFound     = errors.New("aggregate not found")
	ErrAlreadyExists         = errors.New("aggregate already exists")
	ErrInvalidEventSequence  = errors.New("invalid event sequence")
	ErrUnknownEventType      = errors.New("unknown event type")
	ErrBusinessRuleViolation = errors.New("business rule violation")
	ErrStoreNoEvents         = errors.New("no events to store")
)

// Code is a stable error code surfaced across the store, repository and bus
// boundaries. Callers dispatch on codes, not on error strings.
type Code string

const (
	CodeConcurrencyConflict   Code = "CONCURRENCY_CONFLICT"
	CodeAggregateNotFound     Code = "AGGREGATE_NOT_FOUND"
	CodeAlreadyExists         Code = "ALREADY_EXISTS"
	CodeInvalidEventSequence  Code = "INVALID_EVENT_SEQUENCE"
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeTimeout               Code = "TIMEOUT"
	CodeHandlerNotFound       Code = "HANDLER_NOT_FOUND"
	CodeEventStoreError       Code = "EVENT_STORE_ERROR"
	CodeBusinessRuleViolation Code = "BUSINESS_RULE_VIOLATION"
	CodeUnavailable           Code = "SERVICE_UNAVAILABLE"
	CodeNetwork               Code = "NETWORK_ERROR"
)

// Error carries a Code plus enough context for diagnosis. It wraps the
// matching sentinel so errors.Is keeps working for callers that prefer
// sentinel checks.
type Error struct {
	Code Code

	AggregateID   string
	AggregateType string

	// ExpectedVersion/ActualVersion are set on CONCURRENCY_CONFLICT.
	ExpectedVersion Version
	ActualVersion   Version

	// Rule is the violated business rule name on BUSINESS_RULE_VIOLATION.
	Rule string

	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.msg)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.cause.Error())
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return sentinelFor(e.Code)
}

func sentinelFor(c Code) error {
	switch c {
	case CodeConcurrencyConflict:
		return ErrConcurrencyConflict
	case CodeAggregateNotFound:
		return ErrAggregateNotFound
	case CodeAlreadyExists:
		return ErrAlreadyExists
	case CodeInvalidEventSequence:
		return ErrInvalidEventSequence
	case CodeBusinessRuleViolation:
		return ErrBusinessRuleViolation
	}
	return nil
}

// CodeOf extracts the Code from err, walking the wrap chain.
// Returns EVENT_STORE_ERROR as a catch-all for unknown errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		return CodeConcurrencyConflict
	case errors.Is(err, ErrAggregateNotFound):
		return CodeAggregateNotFound
	case errors.Is(err, ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, ErrInvalidEventSequence):
		return CodeInvalidEventSequence
	case errors.Is(err, ErrBusinessRuleViolation):
		return CodeBusinessRuleViolation
	}
	return CodeEventStoreError
}

// NewConflictError reports an optimistic concurrency failure with the
// expected and actual stream versions.
func NewConflictError(aggType, aggID string, expected, actual Version) *Error {
	return &Error{
		Code:            CodeConcurrencyConflict,
		AggregateType:   aggType,
		AggregateID:     aggID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
		msg:             fmt.Sprintf("%s/%s: expected version %d, actual %d", aggType, aggID, expected, actual),
	}
}

func NewRuleViolationError(rule, message string) *Error {
	return &Error{
		Code: CodeBusinessRuleViolation,
		Rule: rule,
		msg:  fmt.Sprintf("%s: %s", rule, message),
	}
}

func NewStoreError(cause error) *Error {
	return &Error{Code: CodeEventStoreError, cause: cause}
}

func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}
