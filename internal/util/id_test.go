package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefixAndOrdering(t *testing.T) {
	first := NewID("doc")
	second := NewID("doc")
	if !strings.HasPrefix(first, "doc_") {
		t.Fatalf("expected doc_ prefix, got %q", first)
	}
	if first == second {
		t.Fatalf("expected unique ids, got %q twice", first)
	}
	if first > second {
		t.Fatalf("expected monotonic ids, got %q then %q", first, second)
	}
	if bare := NewID(""); strings.Contains(bare, "_") {
		t.Fatalf("expected bare id without separator, got %q", bare)
	}
}
