// Package errors defines the coded errors squint reports, each with fixes the
// CLI prints as hints.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode is stable across releases; scripts match on it.
type ErrorCode string

const (
	// DatabaseLocked: another writer holds the database or the sync lock
	DatabaseLocked ErrorCode = "DATABASE_LOCKED"
	// DatabaseMissing: there is no database to open
	DatabaseMissing ErrorCode = "DATABASE_MISSING"
	// DatabaseEmpty: sync against a store with no indexed files
	DatabaseEmpty ErrorCode = "DATABASE_EMPTY"
	// SourceUnreadable: the source tree cannot be walked
	SourceUnreadable ErrorCode = "SOURCE_UNREADABLE"
	// ParseFailed: one file could not be parsed
	ParseFailed ErrorCode = "PARSE_FAILED"
	// LLMUnavailable: the model call failed or timed out
	LLMUnavailable ErrorCode = "LLM_UNAVAILABLE"
	InternalError  ErrorCode = "INTERNAL_ERROR"
)

// FixActionType says how a fix is applied.
type FixActionType string

const (
	RunCommand FixActionType = "run-command"
	Retry      FixActionType = "retry"
	EditConfig FixActionType = "edit-config"
)

// FixAction is one suggested remedy.
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
}

// SquintError is an error with a code and suggested fixes. The cause is
// kept for Unwrap but not serialized.
type SquintError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error
}

// New creates a SquintError carrying the default fixes for code.
func New(code ErrorCode, message string, cause error) *SquintError {
	return &SquintError{Code: code, Message: message, cause: cause, SuggestedFixes: GetSuggestedFixes(code)}
}

func (e *SquintError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *SquintError) Unwrap() error {
	return e.cause
}

var fixes = map[ErrorCode][]FixAction{
	DatabaseLocked: {
		{Type: Retry, Command: "squint sync", Safe: true, Description: "Another writer is active; retry once it finishes"},
	},
	DatabaseMissing: {
		{Type: RunCommand, Command: "squint index", Safe: true, Description: "Create the database with an initial full index"},
	},
	DatabaseEmpty: {
		{Type: RunCommand, Command: "squint index", Safe: true, Description: "Run a full index before syncing"},
	},
	SourceUnreadable: {
		{Type: RunCommand, Command: "squint status", Safe: true, Description: "Check the repository root is readable; nothing was written"},
	},
	LLMUnavailable: {
		{Type: Retry, Command: "squint sync", Safe: true, Description: "Dirty rows are kept; the next sync retries enrichment"},
		{Type: EditConfig, Description: "Set llm.enabled to false in .squint/config.json (or SQUINT_LLM_ENABLED=false) to enrich without a model"},
	},
}

// GetSuggestedFixes returns the default fixes for code, nil if it has none.
func GetSuggestedFixes(code ErrorCode) []FixAction {
	return fixes[code]
}

// CodeOf returns the code of the first SquintError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *SquintError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Is reports whether err's chain carries code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the same call may succeed later unchanged.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case DatabaseLocked, LLMUnavailable:
		return true
	}
	return false
}
