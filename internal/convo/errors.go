package convo

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures so callers can decide between aborting a view,
// recovering inline and retrying.
type ErrorCode string

const (
	CodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	CodeNotFound               ErrorCode = "NOT_FOUND"
	CodeBlocked                ErrorCode = "BLOCKED"
	CodeValidation             ErrorCode = "VALIDATION"
	CodeTransientStore         ErrorCode = "TRANSIENT_STORE"
	CodeTranslationUnavailable ErrorCode = "TRANSLATION_UNAVAILABLE"
)

// Fatal reports whether the failure aborts the conversation view.
func (c ErrorCode) Fatal() bool {
	return c == CodeUnauthorized || c == CodeNotFound
}

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrUnauthorized           = &Error{Code: CodeUnauthorized}
	ErrNotFound               = &Error{Code: CodeNotFound}
	ErrBlocked                = &Error{Code: CodeBlocked}
	ErrValidation             = &Error{Code: CodeValidation}
	ErrTransientStore         = &Error{Code: CodeTransientStore}
	ErrTranslationUnavailable = &Error{Code: CodeTranslationUnavailable}
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" && e.Err == nil {
		return fmt.Sprintf("convo: %s", e.Code)
	}
	if e.Err == nil {
		return fmt.Sprintf("convo: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("convo: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a classified error.
func NewError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Retryable reports whether the operation may succeed if repeated unchanged.
func Retryable(err error) bool {
	return CodeOf(err) == CodeTransientStore
}
