// Package aaerr holds the typed failures surfaced by the user operation pipeline.
package aaerr

import (
	"context"
	"errors"
	"fmt"
)

// Code identifies a class of pipeline failure.
type Code string

const (
	IdentityUnavailable Code = "IDENTITY_UNAVAILABLE"
	AmountParseError    Code = "AMOUNT_PARSE_ERROR"
	AddressFormatError  Code = "ADDRESS_FORMAT_ERROR"
	MissingToken        Code = "MISSING_TOKEN"
	SigningRejected     Code = "SIGNING_REJECTED"
	BundlerRejected     Code = "BUNDLER_REJECTED"
	PaymasterRejected   Code = "PAYMASTER_REJECTED"
	Timeout             Code = "TIMEOUT"
	ReceiptNotFound     Code = "RECEIPT_NOT_FOUND"
	NetworkUnavailable  Code = "NETWORK_UNAVAILABLE"
	OperationReverted   Code = "OPERATION_REVERTED"
	InvalidOperation    Code = "INVALID_OPERATION"
	Cancelled           Code = "CANCELLED"
)

// Stage is the pipeline step that was running when an error occurred.
type Stage string

const (
	StageEncode    Stage = "encode"
	StageDerive    Stage = "derive"
	StageQueue     Stage = "queue"
	StageBuild     Stage = "build"
	StageNegotiate Stage = "negotiate"
	StageSponsor   Stage = "sponsor"
	StageSign      Stage = "sign"
	StageSend      Stage = "send"
	StageConfirm   Stage = "confirm"
)

// Error is a pipeline failure with its code, the stage it happened in and,
// for validation failures, the offending field.
type Error struct {
	Code    Code
	Stage   Stage
	Field   string
	Message string
	Err     error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	prefix := string(e.Code)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s at %s", prefix, e.Stage)
	}
	if e.Field != "" {
		prefix = fmt.Sprintf("%s (field %s)", prefix, e.Field)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so callers can
// write errors.Is(err, aaerr.New(aaerr.Timeout, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given code at the given stage around err.
func Wrap(code Code, stage Stage, err error, message string) *Error {
	return &Error{Code: code, Stage: stage, Err: err, Message: message}
}

// ForField creates a validation error naming the offending field.
func ForField(code Code, field string, message string) *Error {
	return &Error{
		Code:    code,
		Field:   field,
		Message: message,
		Details: map[string]interface{}{"field": field},
	}
}

// WithStage returns err tagged with stage. Non-pipeline errors are wrapped
// with the fallback code.
func WithStage(err error, stage Stage, fallback Code) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Stage == "" {
			cp := *e
			cp.Stage = stage
			return &cp
		}
		return err
	}
	return Wrap(fallback, stage, err, "")
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StageOf returns the stage of the first *Error in err's chain.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// FromContext classifies a ctx error that stopped stage: a deadline is
// Timeout, anything else is Cancelled.
func FromContext(stage Stage, err error, message string) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(Timeout, stage, err, message)
	}
	return Wrap(Cancelled, stage, err, message)
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
