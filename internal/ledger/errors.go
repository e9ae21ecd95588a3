package ledger

import (
	"errors"
	"fmt"

	"clockbot/internal/db/models"
)

// Code classifies a ledger failure.
type Code string

const (
	CodeNoActiveSession      Code = "NO_ACTIVE_SESSION"
	CodeAlreadyActive        Code = "ALREADY_ACTIVE"
	CodeNotActive            Code = "NOT_ACTIVE"
	CodeDataCorruption       Code = "DATA_CORRUPTION"
	CodePersistFailure       Code = "PERSIST_FAILURE"
	CodeSessionAlreadyOpen   Code = "SESSION_ALREADY_OPEN"
	CodeDuplicateSessionName Code = "DUPLICATE_SESSION_NAME"
	CodeNoSessionOpen        Code = "NO_SESSION_OPEN"
	CodeConfirmationRequired Code = "CONFIRMATION_REQUIRED"
	CodeConfirmationDeclined Code = "CONFIRMATION_DECLINED"
	CodeRecordNotFound       Code = "RECORD_NOT_FOUND"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeStorage              Code = "STORAGE"
)

// Error is returned by every ledger operation. Message is safe to show to
// members; Err carries the underlying cause. Records holds the rows an
// administrator needs for manual reconciliation (persist failures, data
// corruption).
type Error struct {
	Code    Code
	Message string
	Err     error
	Records []models.AttendanceRecord
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Fatal reports whether the failure needs an administrator.
func (e *Error) Fatal() bool {
	return e.Code == CodeDataCorruption || e.Code == CodePersistFailure
}

var (
	ErrNoActiveSession      = newError(CodeNoActiveSession, "Sorry, there is no current session")
	ErrAlreadyActive        = newError(CodeAlreadyActive, "You are already active, did you mean to clock out?")
	ErrNotActive            = newError(CodeNotActive, "Did not find you in active records, did you forget to clock in?")
	ErrDataCorruption       = newError(CodeDataCorruption, "Member is clocked in more than once, contact an administrator")
	ErrPersistFailure       = newError(CodePersistFailure, "Failed to store record to history, contact an administrator")
	ErrSessionAlreadyOpen   = newError(CodeSessionAlreadyOpen, "A session is already in place, please end it before starting a new one")
	ErrDuplicateSessionName = newError(CodeDuplicateSessionName, "Session start failed, session names must be unique")
	ErrNoSessionOpen        = newError(CodeNoSessionOpen, "Sorry, there is no current session to end")
	ErrConfirmationRequired = newError(CodeConfirmationRequired, "This action needs confirmation")
	ErrConfirmationDeclined = newError(CodeConfirmationDeclined, "Action aborted, nothing was changed")
	ErrRecordNotFound       = newError(CodeRecordNotFound, "Record not found")
	ErrInvalidInput         = newError(CodeInvalidInput, "The provided input is invalid")
	ErrStorage              = newError(CodeStorage, "Storage error, please try again or contact an administrator")
)

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// withMessage copies a sentinel with a more specific message.
func withMessage(base *Error, message string) *Error {
	return &Error{Code: base.Code, Message: message}
}

// storageError wraps a store failure. Store sentinels pass through.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return &Error{Code: CodeStorage, Message: ErrStorage.Message, Err: fmt.Errorf("%s: %w", op, err)}
}

func invalidInput(message string) *Error {
	return withMessage(ErrInvalidInput, message)
}

// StatusMessage returns the human-readable status for err.
func StatusMessage(err error) string {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Message
	}
	return "An internal error occurred"
}

// CodeOf returns the code of err or "" for foreign errors.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
