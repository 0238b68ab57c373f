package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"docflow/internal/autocheck"
	"docflow/internal/directory"
	"docflow/internal/events"
	"docflow/internal/gitrepo"
	"docflow/internal/locker"
	"docflow/internal/rbac"
	"docflow/internal/store"
	"docflow/internal/util"
)

type SubmitInput struct {
	Comment string `json:"comment"`
	// SupervisorID and ManagerID override the submitter's reviewers from
	// the directory.
	SupervisorID string `json:"supervisorId"`
	ManagerID    string `json:"managerId"`
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, notFound(err, "document", documentID)
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]store.Document, error) {
	return s.store.ListDocuments(ctx, filter)
}

// DocumentHistory lists archived versions, newest first. Without an
// archive it returns an empty list.
func (s *Service) DocumentHistory(ctx context.Context, documentID string, limit int) ([]gitrepo.Revision, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []gitrepo.Revision{}, nil
	}
	revisions, err := s.archive.History(documentID, limit)
	if errors.Is(err, gitrepo.ErrNoArchive) {
		return []gitrepo.Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("document history %s: %w", documentID, err)
	}
	return revisions, nil
}

// ArchivedVersion is the content a document held at one version.
type ArchivedVersion struct {
	DocumentID    string `json:"documentId"`
	Version       int64  `json:"version"`
	Content       string `json:"content"`
	ContentDigest string `json:"contentDigest"`
}

// DocumentVersion returns the content of a past or current version. The
// current version is served from the store; older ones need the archive.
func (s *Service) DocumentVersion(ctx context.Context, documentID string, version int64) (ArchivedVersion, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return ArchivedVersion{}, err
	}
	missing := ErrNotFound.with(fmt.Sprintf("version %d not found", version), map[string]any{
		"id":             documentID,
		"currentVersion": doc.Version,
	})
	if version < 1 || version > doc.Version {
		return ArchivedVersion{}, missing
	}
	if version == doc.Version {
		return ArchivedVersion{DocumentID: doc.ID, Version: doc.Version, Content: doc.Content, ContentDigest: doc.ContentDigest}, nil
	}
	if s.archive == nil {
		return ArchivedVersion{}, missing
	}
	content, err := s.archive.ContentAt(documentID, version)
	if errors.Is(err, gitrepo.ErrNoArchive) || errors.Is(err, gitrepo.ErrNoVersion) {
		return ArchivedVersion{}, missing
	}
	if err != nil {
		return ArchivedVersion{}, fmt.Errorf("document %s version %d: %w", documentID, version, err)
	}
	return ArchivedVersion{DocumentID: doc.ID, Version: version, Content: content, ContentDigest: contentDigest(content)}, nil
}

// documentIDPattern admits single plain path segments. Ids also name
// archive directories.
var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Save writes new content on top of baseVersion. A document that does not
// exist yet is created at version 1 when baseVersion is 0.
func (s *Service) Save(ctx context.Context, documentID string, baseVersion int64, content, actorID string) (store.Document, error) {
	documentID = strings.TrimSpace(documentID)
	if !documentIDPattern.MatchString(documentID) {
		return store.Document{}, ErrValidation.with("Document id must be letters, digits, dot, dash or underscore", map[string]any{"documentId": documentID})
	}
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return store.Document{}, err
	}

	var (
		saved   store.Document
		created bool
	)
	err = s.withLock(ctx, locker.DocumentKey(documentID), func(ctx context.Context) error {
		err := s.store.InTx(ctx, func(tx store.Tx) error {
			doc, err := tx.GetDocument(ctx, documentID)
			if errors.Is(err, store.ErrNotFound) {
				if baseVersion != 0 {
					return ErrNotFound.with("Document not found", map[string]any{"id": documentID})
				}
				if !rbac.CanEdit(actor.Role, store.DocumentDraft, "") {
					return ErrForbidden.with("Actor cannot edit documents", nil)
				}
				now := s.clock.Now()
				saved = store.Document{
					ID:            documentID,
					Version:       1,
					Content:       content,
					ContentDigest: contentDigest(content),
					Status:        store.DocumentDraft,
					CreatedBy:     actor.ID,
					CreatedAt:     now,
					UpdatedBy:     actor.ID,
					UpdatedAt:     now,
				}
				created = true
				return tx.CreateDocument(ctx, saved)
			}
			if err != nil {
				return err
			}

			if doc.Status != store.DocumentDraft {
				return ErrLocked.with(fmt.Sprintf("Document is %s", doc.Status), map[string]any{"lockedBy": doc.LockedBy})
			}
			if !rbac.CanEdit(actor.Role, doc.Status, doc.LockedBy) {
				return ErrForbidden.with("Actor cannot edit documents", nil)
			}
			if baseVersion != doc.Version {
				return staleVersionError(doc, baseVersion, content)
			}

			saved = nextVersion(doc, content, actor.ID, s.clock.Now())
			if err := tx.UpdateDocument(ctx, saved, doc.Version); err != nil {
				if errors.Is(err, store.ErrVersionConflict) {
					if current, readErr := tx.GetDocument(ctx, documentID); readErr == nil {
						return staleVersionError(current, baseVersion, content)
					}
					return ErrStaleVersion
				}
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.archiveVersion(saved, "save")
		return nil
	})
	if err != nil {
		return store.Document{}, err
	}

	s.emit(ctx, events.Event{
		Type:       events.DocumentSaved,
		DocumentID: saved.ID,
		ActorID:    actor.ID,
		At:         saved.UpdatedAt,
		Data:       map[string]any{"version": saved.Version, "created": created},
	})
	return saved, nil
}

func nextVersion(doc store.Document, content, actorID string, now time.Time) store.Document {
	doc.Version++
	doc.Content = content
	doc.ContentDigest = contentDigest(content)
	doc.UpdatedBy = actorID
	doc.UpdatedAt = now
	return doc
}

// archiveVersion commits an accepted version to the content archive. It is
// called under the document lock so archive commits follow version order.
func (s *Service) archiveVersion(doc store.Document, message string) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.CommitVersion(doc.ID, doc.Version, doc.Content, doc.UpdatedBy, message); err != nil {
		log.Printf("archive: commit %s v%d: %v", doc.ID, doc.Version, err)
	}
}

// Submit locks the document and opens a review for its current version.
func (s *Service) Submit(ctx context.Context, documentID, actorID string, input SubmitInput) (store.Review, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return store.Review{}, err
	}
	if !rbac.Can(actor.Role, rbac.ActionWrite) {
		return store.Review{}, ErrForbidden.with("Actor cannot submit documents", nil)
	}

	supervisorID := firstNonEmpty(input.SupervisorID, actor.SupervisorID)
	managerID := firstNonEmpty(input.ManagerID, actor.ManagerID)
	if err := s.checkReviewer(ctx, supervisorID, store.StageSupervisorReview, actor.ID); err != nil {
		return store.Review{}, err
	}
	if err := s.checkReviewer(ctx, managerID, store.StageManagerReview, actor.ID); err != nil {
		return store.Review{}, err
	}

	var review store.Review
	err = s.withLock(ctx, locker.DocumentKey(documentID), func(ctx context.Context) error {
		doc, err := s.store.GetDocument(ctx, documentID)
		if err != nil {
			return notFound(err, "document", documentID)
		}
		if err := submittable(doc); err != nil {
			return err
		}

		result, err := s.checker.Check(ctx, doc.Content)
		if err != nil {
			log.Printf("autocheck: document %s: %v", documentID, err)
			result = autocheck.Empty()
		}

		return s.store.InTx(ctx, func(tx store.Tx) error {
			doc, err := tx.GetDocument(ctx, documentID)
			if err != nil {
				return notFound(err, "document", documentID)
			}
			if err := submittable(doc); err != nil {
				return err
			}
			if _, found, err := tx.PendingReview(ctx, documentID); err != nil {
				return err
			} else if found {
				return ErrAlreadyLocked.with("Document already has a pending review", nil)
			}

			now := s.clock.Now()
			review = store.Review{
				ID:              util.NewID("rev"),
				DocumentID:      doc.ID,
				DocumentVersion: doc.Version,
				SubmitterID:     actor.ID,
				SubmittedAt:     now,
				SubmitComment:   strings.TrimSpace(input.Comment),
				AutoCheck:       result,
				// auto_check is advisory and has already run.
				CurrentStage: store.StageSupervisorReview,
				SupervisorDecision: store.StageDecision{
					ReviewerID: supervisorID,
					Decision:   store.DecisionPending,
				},
				ManagerReviewerID: managerID,
				FinalStatus:       store.DecisionPending,
				UpdatedAt:         now,
			}
			if err := tx.CreateReview(ctx, review); err != nil {
				if errors.Is(err, store.ErrPendingReviewExists) {
					return ErrAlreadyLocked.with("Document already has a pending review", nil)
				}
				return err
			}

			locked := doc
			locked.Status = store.DocumentPendingReview
			locked.LockedBy = actor.ID
			locked.LockedAt = &now
			return tx.UpdateDocument(ctx, locked, doc.Version)
		})
	})
	if err != nil {
		return store.Review{}, err
	}

	s.emit(ctx, events.Event{
		Type:       events.DocumentSubmitted,
		DocumentID: review.DocumentID,
		ReviewID:   review.ID,
		ActorID:    actor.ID,
		At:         review.SubmittedAt,
		Data: map[string]any{
			"version":        review.DocumentVersion,
			"autoCheckScore": review.AutoCheck.Score,
			"supervisorId":   supervisorID,
			"managerId":      managerID,
		},
	})
	return review, nil
}

func submittable(doc store.Document) error {
	if doc.Status != store.DocumentDraft {
		return ErrInvalidState.with(fmt.Sprintf("Document is %s", doc.Status), nil)
	}
	if doc.LockedBy != "" {
		return ErrAlreadyLocked.with("Document is locked", map[string]any{"lockedBy": doc.LockedBy})
	}
	return nil
}

// checkReviewer verifies that reviewerID exists, holds the role bound to
// stage and is not the submitter of the work under review.
func (s *Service) checkReviewer(ctx context.Context, reviewerID, stage, submitterID string) error {
	if strings.TrimSpace(reviewerID) == "" {
		return ErrValidation.with(fmt.Sprintf("No reviewer for %s", stage), nil)
	}
	if reviewerID == submitterID {
		return ErrUnauthorized.with(fmt.Sprintf("Submitter cannot review %s", stage), map[string]any{"reviewerId": reviewerID})
	}
	reviewer, err := s.directory.Lookup(ctx, reviewerID)
	if errors.Is(err, directory.ErrUnknownActor) {
		return ErrUnauthorized.with(fmt.Sprintf("Unknown reviewer for %s", stage), map[string]any{"reviewerId": reviewerID})
	}
	if err != nil {
		return fmt.Errorf("lookup reviewer %s: %w", reviewerID, err)
	}
	if !rbac.CanDecide(reviewer.Role, stage) {
		return ErrUnauthorized.with(fmt.Sprintf("Reviewer cannot decide %s", stage), map[string]any{
			"reviewerId": reviewerID,
			"role":       reviewer.Role,
		})
	}
	return nil
}

// ReEdit returns a rejected document to draft.
func (s *Service) ReEdit(ctx context.Context, documentID, actorID string) (store.Document, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return store.Document{}, err
	}
	if !rbac.Can(actor.Role, rbac.ActionWrite) {
		return store.Document{}, ErrForbidden.with("Actor cannot edit documents", nil)
	}

	var doc store.Document
	err = s.withLock(ctx, locker.DocumentKey(documentID), func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx store.Tx) error {
			current, err := tx.GetDocument(ctx, documentID)
			if err != nil {
				return notFound(err, "document", documentID)
			}
			if current.Status != store.DocumentRejected {
				return ErrInvalidState.with(fmt.Sprintf("Document is %s", current.Status), nil)
			}
			doc = current
			doc.Status = store.DocumentDraft
			doc.LockedBy = ""
			doc.LockedAt = nil
			doc.UpdatedAt = s.clock.Now()
			return tx.UpdateDocument(ctx, doc, current.Version)
		})
	})
	if err != nil {
		return store.Document{}, err
	}

	s.emit(ctx, events.Event{
		Type:       events.DocumentReEdited,
		DocumentID: doc.ID,
		ActorID:    actor.ID,
		At:         doc.UpdatedAt,
	})
	return doc, nil
}

// applyReviewOutcome moves a pending document to the terminal state of its
// review. It runs inside the review's transaction; a document that is not
// pending review aborts it.
func applyReviewOutcome(ctx context.Context, tx store.Tx, documentID, outcome string, now time.Time) (store.Document, error) {
	doc, err := tx.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, fmt.Errorf("load document %s: %w", documentID, err)
	}
	if doc.Status != store.DocumentPendingReview {
		return store.Document{}, ErrConsistency.with(
			fmt.Sprintf("Document %s is %s, expected %s", documentID, doc.Status, store.DocumentPendingReview), nil)
	}

	updated := doc
	switch outcome {
	case store.DecisionApproved:
		updated.Status = store.DocumentApproved
	case store.DecisionRejected:
		updated.Status = store.DocumentRejected
		updated.LockedBy = ""
		updated.LockedAt = nil
	default:
		return store.Document{}, ErrConsistency.with(fmt.Sprintf("Unknown review outcome %q", outcome), nil)
	}
	updated.UpdatedAt = now
	if err := tx.UpdateDocument(ctx, updated, doc.Version); err != nil {
		return store.Document{}, err
	}
	return updated, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
