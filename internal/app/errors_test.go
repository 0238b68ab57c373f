package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestDomainErrorMatchesByCode(t *testing.T) {
	err := ErrStaleVersion.with("moved on", map[string]any{"currentVersion": 4})
	wrapped := fmt.Errorf("save: %w", err)

	if !errors.Is(wrapped, ErrStaleVersion) {
		t.Fatalf("expected wrapped error to match ErrStaleVersion")
	}
	if errors.Is(wrapped, ErrLocked) {
		t.Fatalf("did not expect match against ErrLocked")
	}

	status, code, message, details := mapError(wrapped)
	if status != http.StatusConflict || code != "STALE_VERSION" || message != "moved on" || details == nil {
		t.Fatalf("unexpected mapping: %d %s %q %v", status, code, message, details)
	}
}

func TestMapErrorDefaultsToServerError(t *testing.T) {
	status, code, _, _ := mapError(errors.New("boom"))
	if status != http.StatusInternalServerError || code != "SERVER_ERROR" {
		t.Fatalf("unexpected mapping: %d %s", status, code)
	}
}

func TestSentinelStatuses(t *testing.T) {
	cases := []struct {
		err    *DomainError
		status int
	}{
		{ErrLocked, http.StatusLocked},
		{ErrAlreadyLocked, http.StatusConflict},
		{ErrOutOfRange, http.StatusUnprocessableEntity},
		{ErrForbidden, http.StatusForbidden},
		{ErrUnauthorized, http.StatusForbidden},
		{ErrConsistency, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Code, func(t *testing.T) {
			if got := tc.err.with("", nil); got.Status != tc.status || got.Message != tc.err.Message {
				t.Fatalf("got %d %q", got.Status, got.Message)
			}
		})
	}
}
