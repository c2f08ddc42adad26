package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "judgecore/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{SubmissionNotFound, "Submission not found"},
		{LanguageNotSupported, "Programming language not supported"},
		{DatabaseError, "Database operation failed"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{ValidationFailed, 400},
		{LanguageNotSupported, 400},
		{SubmissionNotFound, 404},
		{SubmitTooFrequently, 429},
		{JudgeQueueFull, 503},
		{ResultConflict, 409},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	originalErr := errors.New("connection refused")
	err := Wrap(originalErr, DatabaseError)

	if err.Code != DatabaseError {
		t.Fatalf("Code = %v, want %v", err.Code, DatabaseError)
	}
	if !errors.Is(err, originalErr) {
		t.Fatalf("wrapped error should unwrap to the cause")
	}
	if Wrap(nil, DatabaseError) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestIsThroughFmtWrap(t *testing.T) {
	inner := New(SubmissionNotFound)
	outer := fmt.Errorf("load submission: %w", inner)

	if !Is(outer, SubmissionNotFound) {
		t.Fatalf("Is should see codes through fmt wrapping")
	}
	if GetCode(outer) != SubmissionNotFound {
		t.Fatalf("GetCode = %v, want %v", GetCode(outer), SubmissionNotFound)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: true},
		{name: "database", err: New(DatabaseError), want: true},
		{name: "sandbox", err: New(SandboxUnavailable), want: true},
		{name: "validation", err: ValidationError("language", "unsupported"), want: false},
		{name: "missing test cases", err: New(TestCaseNotFound), want: false},
		{name: "conflict", err: New(ResultConflict), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidationErrorDetails(t *testing.T) {
	err := ValidationError("code", "empty")
	if err.Details["field"] != "code" || err.Details["reason"] != "empty" {
		t.Fatalf("unexpected details: %v", err.Details)
	}
}
