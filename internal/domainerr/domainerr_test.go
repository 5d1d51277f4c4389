package domainerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew_UsesDefaultRetriability(t *testing.T) {
	err := New(Validation, errors.New("bad field"))
	if !err.Retriable {
		t.Error("expected validation errors to default to retriable")
	}

	err = New(Authentication, errors.New("bad token"))
	if err.Retriable {
		t.Error("expected authentication errors to default to non-retriable")
	}
}

func TestWithRetriable_Overrides(t *testing.T) {
	err := New(STT, errors.New("auth failed")).WithRetriable(false)
	if err.Retriable {
		t.Error("expected override to take effect")
	}
}

func TestAs_UnwrapsWrappedError(t *testing.T) {
	base := New(Agent, errors.New("model unavailable"))
	wrapped := fmt.Errorf("turn failed: %w", base)

	got, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to find the wrapped *Error")
	}
	if got.Kind != Agent {
		t.Errorf("expected kind agent, got %s", got.Kind)
	}
}

func TestErrorCode(t *testing.T) {
	err := New(SessionNotFound, errors.New("no such session"))
	if err.ErrorCode() != "session-not-found" {
		t.Errorf("expected 'session-not-found', got %q", err.ErrorCode())
	}
}
