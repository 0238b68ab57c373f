package store

import (
	"context"
	"testing"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore(), "mem")
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.InTx(ctx, func(tx Tx) error {
		return tx.CreateReview(ctx, Review{
			ID: "rev_1", DocumentID: "doc_1", FinalStatus: DecisionPending,
			ManagerDecision: &StageDecision{ReviewerID: "u_m", Decision: DecisionPending},
		})
	})
	if err != nil {
		t.Fatalf("create review: %v", err)
	}

	first, err := s.GetReview(ctx, "rev_1")
	if err != nil {
		t.Fatalf("get review: %v", err)
	}
	first.ManagerDecision.Decision = DecisionApproved

	second, err := s.GetReview(ctx, "rev_1")
	if err != nil {
		t.Fatalf("get review: %v", err)
	}
	if second.ManagerDecision.Decision != DecisionPending {
		t.Fatalf("expected stored decision untouched, got %q", second.ManagerDecision.Decision)
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewMemoryStore().InTx(ctx, func(Tx) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("expected cancelled tx to fail before running, err=%v called=%v", err, called)
	}
}
