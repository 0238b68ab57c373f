package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	tokens := NewTokens([]byte("secret"))
	issued, err := tokens.Issue("u_alice", "Alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := tokens.Parse(issued)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Actor() != "u_alice" || claims.Name != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	tokens := NewTokens([]byte("secret"))
	issued, err := tokens.Issue("u_alice", "", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	tokens.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := tokens.Parse(issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseRejectsForeignSecret(t *testing.T) {
	issued, err := NewTokens([]byte("one")).Issue("u_alice", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := NewTokens([]byte("two")).Parse(issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := NewTokens([]byte("one")).Parse("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":    "abc",
		"  Bearer xyz ": "xyz",
		"Basic abc":     "",
		"":              "",
	}
	for header, want := range cases {
		if got := BearerToken(header); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
