package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Code:    ErrNotFound,
		Status:  404,
		Message: "batch not found: 7",
	}

	expected := "NOT_FOUND: batch not found: 7"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("day is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "day is required" {
		t.Errorf("Message = %q, want %q", err.Message, "day is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("card", int64(42))

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != int64(42) {
		t.Errorf("Details[identifier] = %v, want 42", err.Details["identifier"])
	}
	if err.Message != "card not found: 42" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewMalformedResponse(t *testing.T) {
	err := NewMalformedResponse("observations[%d].start: %q", 2, "1:2:3")

	if err.Code != ErrMalformedResponse {
		t.Errorf("Code = %q, want %q", err.Code, ErrMalformedResponse)
	}
	if err.Message != `observations[2].start: "1:2:3"` {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewUpstream_Unwraps(t *testing.T) {
	cause := fmt.Errorf("status 503")
	err := NewUpstream("transcribe", 3, cause)

	if err.Status != 502 {
		t.Errorf("Status = %d, want 502", err.Status)
	}
	if !stderrors.Is(err, cause) {
		t.Error("NewUpstream should wrap its cause")
	}
	if err.Details["attempts"] != 3 {
		t.Errorf("Details[attempts] = %v, want 3", err.Details["attempts"])
	}
}

func TestNewInternal_NilError(t *testing.T) {
	err := NewInternal(nil)
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", NewEmptyResult("no cards"), ErrEmptyResult, true},
		{"different code", NewEmptyResult("no cards"), ErrMalformedResponse, false},
		{"wrapped", fmt.Errorf("generate cards: %w", NewConflict("x")), ErrConflict, true},
		{"plain error", fmt.Errorf("boom"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewInvalidRequest("bad"))
	e, ok := As(wrapped)
	if !ok {
		t.Fatal("As() ok = false, want true")
	}
	if e.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", e.Code, ErrInvalidRequest)
	}

	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Error("As() on plain error should be false")
	}
}
