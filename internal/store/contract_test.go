package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runStoreContract exercises the behaviour every Store implementation must
// share. ids are suffixed so the suite can run against a persistent database.
func runStoreContract(t *testing.T, s Store, suffix string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	docID := "doc_contract_" + suffix

	t.Run("create and compare-and-increment", func(t *testing.T) {
		err := s.InTx(ctx, func(tx Tx) error {
			return tx.CreateDocument(ctx, Document{
				ID: docID, Version: 1, Content: "v1", ContentDigest: "d1", Status: DocumentDraft,
				CreatedBy: "u_1", CreatedAt: now, UpdatedBy: "u_1", UpdatedAt: now,
			})
		})
		if err != nil {
			t.Fatalf("create document: %v", err)
		}

		err = s.InTx(ctx, func(tx Tx) error {
			doc, err := tx.GetDocument(ctx, docID)
			if err != nil {
				return err
			}
			doc.Version = 2
			doc.Content = "v2"
			return tx.UpdateDocument(ctx, doc, 1)
		})
		if err != nil {
			t.Fatalf("update document: %v", err)
		}

		err = s.InTx(ctx, func(tx Tx) error {
			doc, err := tx.GetDocument(ctx, docID)
			if err != nil {
				return err
			}
			doc.Version = 2
			doc.Content = "lost"
			return tx.UpdateDocument(ctx, doc, 1)
		})
		if !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected version conflict, got %v", err)
		}

		doc, err := s.GetDocument(ctx, docID)
		if err != nil {
			t.Fatalf("get document: %v", err)
		}
		if doc.Version != 2 || doc.Content != "v2" {
			t.Fatalf("unexpected document state: version=%d content=%q", doc.Version, doc.Content)
		}
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.InTx(ctx, func(tx Tx) error {
			doc, err := tx.GetDocument(ctx, docID)
			if err != nil {
				return err
			}
			expected := doc.Version
			doc.Version++
			doc.Content = "rolled back"
			if err := tx.UpdateDocument(ctx, doc, expected); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		doc, err := s.GetDocument(ctx, docID)
		if err != nil {
			t.Fatalf("get document: %v", err)
		}
		if doc.Content != "v2" {
			t.Fatalf("expected rollback to keep v2, got %q", doc.Content)
		}
	})

	t.Run("one pending review per document", func(t *testing.T) {
		review := Review{
			ID: "rev_a_" + suffix, DocumentID: docID, DocumentVersion: 2, SubmitterID: "u_1", SubmittedAt: now,
			AutoCheck:    AutoCheck{Score: 90, Issues: []Issue{{Severity: SeverityWarning, Title: "short"}}},
			CurrentStage: StageSupervisorReview, ManagerReviewerID: "u_m",
			SupervisorDecision: StageDecision{ReviewerID: "u_s", Decision: DecisionPending},
			FinalStatus:        DecisionPending, UpdatedAt: now,
		}
		if err := s.InTx(ctx, func(tx Tx) error { return tx.CreateReview(ctx, review) }); err != nil {
			t.Fatalf("create review: %v", err)
		}

		second := review
		second.ID = "rev_b_" + suffix
		err := s.InTx(ctx, func(tx Tx) error { return tx.CreateReview(ctx, second) })
		if !errors.Is(err, ErrPendingReviewExists) {
			t.Fatalf("expected pending review conflict, got %v", err)
		}

		err = s.InTx(ctx, func(tx Tx) error {
			pending, found, err := tx.PendingReview(ctx, docID)
			if err != nil {
				return err
			}
			if !found || pending.ID != review.ID {
				t.Fatalf("expected pending review %s, got %+v found=%v", review.ID, pending, found)
			}
			decided := now.Add(time.Minute)
			pending.SupervisorDecision.Decision = DecisionRejected
			pending.SupervisorDecision.DecidedAt = &decided
			pending.FinalStatus = DecisionRejected
			pending.CompletedAt = &decided
			return tx.UpdateReview(ctx, pending)
		})
		if err != nil {
			t.Fatalf("reject review: %v", err)
		}

		if err := s.InTx(ctx, func(tx Tx) error { return tx.CreateReview(ctx, second) }); err != nil {
			t.Fatalf("expected new review after terminal one, got %v", err)
		}

		reviews, err := s.ListReviews(ctx, ReviewFilter{DocumentID: docID})
		if err != nil {
			t.Fatalf("list reviews: %v", err)
		}
		if len(reviews) != 2 {
			t.Fatalf("expected 2 reviews, got %d", len(reviews))
		}
		stored, err := s.GetReview(ctx, review.ID)
		if err != nil {
			t.Fatalf("get review: %v", err)
		}
		if stored.AutoCheck.Score != 90 || len(stored.AutoCheck.Issues) != 1 {
			t.Fatalf("expected auto check stored verbatim, got %+v", stored.AutoCheck)
		}
		if stored.ManagerDecision != nil {
			t.Fatalf("expected no manager decision, got %+v", stored.ManagerDecision)
		}
		byReviewer, err := s.ListReviews(ctx, ReviewFilter{ReviewerID: "u_m", Status: DecisionPending, DocumentID: docID})
		if err != nil {
			t.Fatalf("list by reviewer: %v", err)
		}
		if len(byReviewer) != 1 || byReviewer[0].ID != second.ID {
			t.Fatalf("expected pending review for manager, got %+v", byReviewer)
		}
	})

	t.Run("task timeline appends", func(t *testing.T) {
		taskID := "task_contract_" + suffix
		task := Task{
			ID: taskID, DocumentID: docID, AssignerID: "u_s", AssigneeID: "u_1", AssignedAt: now,
			Priority: PriorityUrgent, Status: TaskTodo, UpdatedAt: now,
			Timeline: NewTimeline(TimelineEvent{Type: EventAssigned, ActorID: "u_s", ActorName: "Sam", Timestamp: now}),
		}
		if err := s.InTx(ctx, func(tx Tx) error { return tx.CreateTask(ctx, task) }); err != nil {
			t.Fatalf("create task: %v", err)
		}
		err := s.InTx(ctx, func(tx Tx) error {
			current, err := tx.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			current.Status = TaskInProgress
			current.Progress = 40
			if err := tx.UpdateTask(ctx, current); err != nil {
				return err
			}
			return tx.AppendTimeline(ctx, taskID, TimelineEvent{Type: EventStarted, ActorID: "u_1", ActorName: "Ana", Timestamp: now})
		})
		if err != nil {
			t.Fatalf("update task: %v", err)
		}

		stored, err := s.GetTask(ctx, taskID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if stored.Status != TaskInProgress || stored.Progress != 40 {
			t.Fatalf("unexpected task state: %+v", stored)
		}
		events := stored.Timeline.Events()
		if len(events) != 2 || events[0].Type != EventAssigned || events[1].Type != EventStarted {
			t.Fatalf("unexpected timeline: %+v", events)
		}

		tasks, err := s.ListTasks(ctx, TaskFilter{AssigneeID: "u_1", DocumentID: docID})
		if err != nil {
			t.Fatalf("list tasks: %v", err)
		}
		if len(tasks) != 1 || tasks[0].Timeline.Len() != 2 {
			t.Fatalf("expected one task with two events, got %+v", tasks)
		}
	})

	t.Run("missing rows", func(t *testing.T) {
		if _, err := s.GetDocument(ctx, "doc_missing_"+suffix); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := s.GetTask(ctx, "task_missing_"+suffix); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}
