package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vocalis-ai/vocalis/pkg/core"
)

func TestFromErrorCoreError(t *testing.T) {
	in := core.NewInvalidRequestErrorWithParam("session_id is required", "session_id")
	out, status := FromError(in, "req_1")
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", status, http.StatusBadRequest)
	}
	if out.Message != in.Message || out.Param != "session_id" {
		t.Fatalf("error = %+v, want message %q param session_id", out, in.Message)
	}
	if out.RequestID != "req_1" {
		t.Fatalf("request id = %q, want req_1", out.RequestID)
	}
	// The original error must not be mutated.
	if in.RequestID != "" {
		t.Fatalf("input request id = %q, want empty", in.RequestID)
	}
}

func TestFromErrorWrapped(t *testing.T) {
	in := fmt.Errorf("handler: %w", core.NewNotFoundError("unknown route"))
	out, status := FromError(in, "")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", status, http.StatusNotFound)
	}
	if out.Type != core.ErrNotFound {
		t.Fatalf("type = %q, want %q", out.Type, core.ErrNotFound)
	}
}

func TestFromErrorUnknownHidesDetails(t *testing.T) {
	out, status := FromError(errors.New("pq: connection refused"), "req_2")
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", status, http.StatusInternalServerError)
	}
	if out.Message != "internal error" {
		t.Fatalf("message = %q, want internal error", out.Message)
	}
}

func TestFromErrorContext(t *testing.T) {
	if _, status := FromError(context.DeadlineExceeded, ""); status != http.StatusGatewayTimeout {
		t.Fatalf("deadline status = %d, want %d", status, http.StatusGatewayTimeout)
	}
	if _, status := FromError(context.Canceled, ""); status != http.StatusRequestTimeout {
		t.Fatalf("cancel status = %d, want %d", status, http.StatusRequestTimeout)
	}
}

func TestStatusFromType(t *testing.T) {
	tests := []struct {
		typ  core.ErrorType
		want int
	}{
		{core.ErrInvalidRequest, http.StatusBadRequest},
		{core.ErrAuthentication, http.StatusUnauthorized},
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrRateLimit, http.StatusTooManyRequests},
		{core.ErrCredential, http.StatusBadGateway},
		{core.ErrAPI, http.StatusBadGateway},
		{core.ErrTool, http.StatusBadGateway},
		{core.ErrTransport, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFromType(tt.typ); got != tt.want {
			t.Fatalf("StatusFromType(%q) = %d, want %d", tt.typ, got, tt.want)
		}
	}
}
