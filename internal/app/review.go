package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"docflow/internal/events"
	"docflow/internal/locker"
	"docflow/internal/publish"
	"docflow/internal/rbac"
	"docflow/internal/store"
)

func (s *Service) GetReview(ctx context.Context, reviewID string) (store.Review, error) {
	review, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return store.Review{}, notFound(err, "review", reviewID)
	}
	return review, nil
}

func (s *Service) ListReviews(ctx context.Context, filter store.ReviewFilter) ([]store.Review, error) {
	return s.store.ListReviews(ctx, filter)
}

// Decide records reviewerID's decision for stage. The review and, on a
// terminal decision, its document are written in one transaction.
func (s *Service) Decide(ctx context.Context, reviewID, stage, reviewerID, decision, comment string) (store.Review, error) {
	if decision != store.DecisionApproved && decision != store.DecisionRejected {
		return store.Review{}, ErrValidation.with("Decision must be approved or rejected", map[string]any{"decision": decision})
	}
	reviewer, err := s.actor(ctx, reviewerID)
	if err != nil {
		return store.Review{}, err
	}
	existing, err := s.GetReview(ctx, reviewID)
	if err != nil {
		return store.Review{}, err
	}

	var (
		review store.Review
		doc    store.Document
	)
	err = s.withLock(ctx, locker.DocumentKey(existing.DocumentID), func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx store.Tx) error {
			current, err := tx.GetReview(ctx, reviewID)
			if err != nil {
				return notFound(err, "review", reviewID)
			}
			if stage != current.CurrentStage {
				return ErrWrongStage.with(fmt.Sprintf("Review is at %s", current.CurrentStage), map[string]any{
					"currentStage": current.CurrentStage,
					"finalStatus":  current.FinalStatus,
				})
			}
			if !rbac.CanDecide(reviewer.Role, stage) || current.AssignedReviewer() != reviewer.ID || current.SubmitterID == reviewer.ID {
				return ErrUnauthorized.with(fmt.Sprintf("Actor is not the reviewer for %s", stage), nil)
			}
			decisionRecord := stageDecision(&current)
			if current.FinalStatus != store.DecisionPending || decisionRecord == nil || decisionRecord.Decision != store.DecisionPending {
				return ErrNotPending.with(fmt.Sprintf("%s already decided", stage), nil)
			}

			now := s.clock.Now()
			decisionRecord.Decision = decision
			decisionRecord.Comment = strings.TrimSpace(comment)
			decisionRecord.DecidedAt = &now
			current.UpdatedAt = now

			switch {
			case decision == store.DecisionRejected:
				current.FinalStatus = store.DecisionRejected
				current.CompletedAt = &now
			case stage == store.StageSupervisorReview:
				current.CurrentStage = store.StageManagerReview
				current.ManagerDecision = &store.StageDecision{
					ReviewerID: current.ManagerReviewerID,
					Decision:   store.DecisionPending,
				}
			default:
				current.FinalStatus = store.DecisionApproved
				current.CompletedAt = &now
			}

			if current.FinalStatus != store.DecisionPending {
				doc, err = applyReviewOutcome(ctx, tx, current.DocumentID, current.FinalStatus, now)
				if err != nil {
					return err
				}
			}
			if err := tx.UpdateReview(ctx, current); err != nil {
				return err
			}
			review = current
			return nil
		})
	})
	if err != nil {
		return store.Review{}, err
	}

	decided := map[string]any{"stage": stage, "decision": decision}
	if review.FinalStatus == store.DecisionPending {
		decided["nextReviewerId"] = review.AssignedReviewer()
	}
	batch := []events.Event{{
		Type:       events.ReviewDecided,
		DocumentID: review.DocumentID,
		ReviewID:   review.ID,
		ActorID:    reviewer.ID,
		At:         review.UpdatedAt,
		Data:       decided,
	}}
	switch review.FinalStatus {
	case store.DecisionApproved:
		s.afterApproval(ctx, review, doc)
		batch = append(batch, events.Event{
			Type: events.DocumentApproved, DocumentID: review.DocumentID, ReviewID: review.ID,
			ActorID: reviewer.ID, At: review.UpdatedAt,
			Data: map[string]any{"version": doc.Version, "submitterId": review.SubmitterID},
		})
	case store.DecisionRejected:
		batch = append(batch, events.Event{
			Type: events.DocumentRejected, DocumentID: review.DocumentID, ReviewID: review.ID,
			ActorID: reviewer.ID, At: review.UpdatedAt,
			Data: map[string]any{"stage": stage, "submitterId": review.SubmitterID, "comment": strings.TrimSpace(comment)},
		})
	}
	s.emit(ctx, batch...)
	return review, nil
}

// stageDecision returns the decision record of the review's current stage.
func stageDecision(review *store.Review) *store.StageDecision {
	switch review.CurrentStage {
	case store.StageSupervisorReview:
		return &review.SupervisorDecision
	case store.StageManagerReview:
		return review.ManagerDecision
	default:
		return nil
	}
}

// afterApproval tags the approved version in the archive and publishes it.
// Failures are logged; the approval itself has already committed.
func (s *Service) afterApproval(ctx context.Context, review store.Review, doc store.Document) {
	approver := ""
	if review.ManagerDecision != nil {
		approver = review.ManagerDecision.ReviewerID
	}
	if s.archive != nil {
		if err := s.archive.TagApproval(doc.ID, doc.Version, review.ID, approver); err != nil {
			log.Printf("archive: tag approval %s v%d: %v", doc.ID, doc.Version, err)
		}
	}
	if s.publisher != nil {
		artifact := publish.Artifact{
			DocumentID:    doc.ID,
			Version:       doc.Version,
			Content:       doc.Content,
			ContentDigest: doc.ContentDigest,
			ReviewID:      review.ID,
			SubmitterID:   review.SubmitterID,
			ApprovedBy:    approver,
			ApprovedAt:    review.UpdatedAt,
		}
		if err := s.publisher.Publish(ctx, artifact); err != nil {
			log.Printf("publish: %s v%d: %v", doc.ID, doc.Version, err)
		}
	}
}

// Transfer hands the current stage's pending decision to another eligible
// reviewer. Stage and final status are unchanged.
func (s *Service) Transfer(ctx context.Context, reviewID, fromReviewerID, toReviewerID, comment string) (store.Review, error) {
	fromReviewerID = strings.TrimSpace(fromReviewerID)
	toReviewerID = strings.TrimSpace(toReviewerID)
	if toReviewerID == "" || toReviewerID == fromReviewerID {
		return store.Review{}, ErrValidation.with("Transfer needs a different target reviewer", nil)
	}
	from, err := s.actor(ctx, fromReviewerID)
	if err != nil {
		return store.Review{}, err
	}
	existing, err := s.GetReview(ctx, reviewID)
	if err != nil {
		return store.Review{}, err
	}

	var review store.Review
	err = s.withLock(ctx, locker.DocumentKey(existing.DocumentID), func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx store.Tx) error {
			current, err := tx.GetReview(ctx, reviewID)
			if err != nil {
				return notFound(err, "review", reviewID)
			}
			if current.FinalStatus != store.DecisionPending {
				return ErrNotPending.with(fmt.Sprintf("Review is %s", current.FinalStatus), nil)
			}
			if current.AssignedReviewer() != from.ID {
				return ErrUnauthorized.with("Only the assigned reviewer can transfer", nil)
			}
			if err := s.checkReviewer(ctx, toReviewerID, current.CurrentStage, current.SubmitterID); err != nil {
				return err
			}

			switch current.CurrentStage {
			case store.StageSupervisorReview:
				current.SupervisorDecision.ReviewerID = toReviewerID
			case store.StageManagerReview:
				current.ManagerReviewerID = toReviewerID
				if current.ManagerDecision != nil {
					current.ManagerDecision.ReviewerID = toReviewerID
				}
			default:
				return ErrConsistency.with(fmt.Sprintf("Pending review at stage %s", current.CurrentStage), nil)
			}
			current.UpdatedAt = s.clock.Now()
			if err := tx.UpdateReview(ctx, current); err != nil {
				return err
			}
			review = current
			return nil
		})
	})
	if err != nil {
		return store.Review{}, err
	}

	s.emit(ctx, events.Event{
		Type:       events.ReviewTransferred,
		DocumentID: review.DocumentID,
		ReviewID:   review.ID,
		ActorID:    from.ID,
		At:         review.UpdatedAt,
		Data: map[string]any{
			"stage":   review.CurrentStage,
			"from":    from.ID,
			"to":      toReviewerID,
			"comment": strings.TrimSpace(comment),
		},
	})
	return review, nil
}
