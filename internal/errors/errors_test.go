package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("underlying error")

	err := New(DatabaseLocked, "database is locked", cause)

	if err.Code != DatabaseLocked {
		t.Errorf("Code = %v, want %v", err.Code, DatabaseLocked)
	}
	if err.Message != "database is locked" {
		t.Errorf("Message = %q, want %q", err.Message, "database is locked")
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
}

func TestSquintError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      SourceUnreadable,
			message:   "cannot walk source",
			cause:     errors.New("permission denied"),
			wantParts: []string{"SOURCE_UNREADABLE", "cannot walk source", "permission denied"},
		},
		{
			name:      "without cause",
			code:      DatabaseEmpty,
			message:   "no files indexed",
			cause:     nil,
			wantParts: []string{"DATABASE_EMPTY", "no files indexed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestSquintError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(InternalError, "something went wrong", cause)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if New(ParseFailed, "bad syntax", nil).Unwrap() != nil {
		t.Error("Unwrap() on error without cause should return nil")
	}
}

func TestCodeOfWrapped(t *testing.T) {
	inner := New(DatabaseLocked, "locked", nil)
	wrapped := fmt.Errorf("sync failed: %w", inner)

	if got := CodeOf(wrapped); got != DatabaseLocked {
		t.Errorf("CodeOf() = %q, want %q", got, DatabaseLocked)
	}
	if !Is(wrapped, DatabaseLocked) {
		t.Error("Is() should find code through wrapping")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf() on plain error should be empty")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{DatabaseLocked, true},
		{LLMUnavailable, true},
		{SourceUnreadable, false},
		{DatabaseEmpty, false},
		{ParseFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := IsRetryable(New(tt.code, "x", nil)); got != tt.want {
				t.Errorf("IsRetryable(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}

	if IsRetryable(nil) {
		t.Error("IsRetryable(nil) should be false")
	}
}

func TestGetSuggestedFixes(t *testing.T) {
	llm := GetSuggestedFixes(LLMUnavailable)
	if len(llm) != 2 || llm[0].Type != Retry || llm[1].Type != EditConfig {
		t.Errorf("LLM_UNAVAILABLE fixes = %+v", llm)
	}
	if got := GetSuggestedFixes(InternalError); got != nil {
		t.Errorf("INTERNAL_ERROR fixes = %+v, want none", got)
	}
	for _, fix := range GetSuggestedFixes(DatabaseMissing) {
		if !fix.Safe || fix.Command != "squint index" {
			t.Errorf("DATABASE_MISSING fix = %+v", fix)
		}
	}
}
