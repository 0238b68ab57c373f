package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"docflow/internal/events"
	"docflow/internal/locker"
	"docflow/internal/rbac"
	"docflow/internal/store"
)

const (
	ConflictClean       = "clean"
	ConflictStale       = "stale"
	ConflictConflicting = "conflicting"
)

const (
	StrategyLocal  = "local"
	StrategyRemote = "remote"
	StrategyManual = "manual"
)

type ConflictReport struct {
	DocumentID     string `json:"documentId"`
	BaseVersion    int64  `json:"baseVersion"`
	CurrentVersion int64  `json:"currentVersion"`
	Classification string `json:"classification"`
	CurrentContent string `json:"currentContent"`
	CurrentDigest  string `json:"currentDigest"`
	WorkingDigest  string `json:"workingDigest"`
}

// Resolution is the outcome of a conflict resolution. Version is the base
// the client continues editing from.
type Resolution struct {
	DocumentID string `json:"documentId"`
	Strategy   string `json:"strategy"`
	Version    int64  `json:"version"`
	Content    string `json:"content"`
}

func contentDigest(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// classify compares a client's base version and working copy with the
// authoritative document.
func classify(doc store.Document, baseVersion int64, working string) string {
	switch {
	case baseVersion == doc.Version:
		return ConflictClean
	case contentDigest(working) == doc.ContentDigest:
		return ConflictStale
	default:
		return ConflictConflicting
	}
}

func staleVersionError(doc store.Document, baseVersion int64, working string) error {
	return ErrStaleVersion.with(
		fmt.Sprintf("Document is at version %d, save was based on %d", doc.Version, baseVersion),
		map[string]any{
			"currentVersion": doc.Version,
			"currentContent": doc.Content,
			"currentDigest":  doc.ContentDigest,
			"classification": classify(doc, baseVersion, working),
		},
	)
}

func (s *Service) DetectConflict(ctx context.Context, documentID string, baseVersion int64, working string) (ConflictReport, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return ConflictReport{}, notFound(err, "document", documentID)
	}
	return ConflictReport{
		DocumentID:     doc.ID,
		BaseVersion:    baseVersion,
		CurrentVersion: doc.Version,
		Classification: classify(doc, baseVersion, working),
		CurrentContent: doc.Content,
		CurrentDigest:  doc.ContentDigest,
		WorkingDigest:  contentDigest(working),
	}, nil
}

// ResolveLocal keeps the client's copy, overwriting whatever was saved in
// between.
func (s *Service) ResolveLocal(ctx context.Context, documentID, clientContent, actorID string) (Resolution, error) {
	return s.overwrite(ctx, documentID, clientContent, actorID, StrategyLocal)
}

// ResolveManual stores a merge the client produced by hand.
func (s *Service) ResolveManual(ctx context.Context, documentID, mergedContent, actorID string) (Resolution, error) {
	return s.overwrite(ctx, documentID, mergedContent, actorID, StrategyManual)
}

// ResolveRemote adopts the authoritative copy. Nothing is written.
func (s *Service) ResolveRemote(ctx context.Context, documentID, actorID string) (Resolution, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return Resolution{}, err
	}
	if !rbac.Can(actor.Role, rbac.ActionRead) {
		return Resolution{}, ErrForbidden.with("Actor cannot read documents", nil)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return Resolution{}, notFound(err, "document", documentID)
	}
	return Resolution{DocumentID: doc.ID, Strategy: StrategyRemote, Version: doc.Version, Content: doc.Content}, nil
}

func (s *Service) overwrite(ctx context.Context, documentID, content, actorID, strategy string) (Resolution, error) {
	documentID = strings.TrimSpace(documentID)
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return Resolution{}, err
	}

	var saved store.Document
	err = s.withLock(ctx, locker.DocumentKey(documentID), func(ctx context.Context) error {
		err := s.store.InTx(ctx, func(tx store.Tx) error {
			doc, err := tx.GetDocument(ctx, documentID)
			if err != nil {
				return notFound(err, "document", documentID)
			}
			if doc.Status != store.DocumentDraft {
				return ErrLocked.with(fmt.Sprintf("Document is %s", doc.Status), nil)
			}
			if !rbac.CanEdit(actor.Role, doc.Status, doc.LockedBy) {
				return ErrForbidden.with("Actor cannot edit documents", nil)
			}
			saved = nextVersion(doc, content, actor.ID, s.clock.Now())
			return tx.UpdateDocument(ctx, saved, doc.Version)
		})
		if err != nil {
			return err
		}
		s.archiveVersion(saved, "resolve conflict ("+strategy+")")
		return nil
	})
	if err != nil {
		return Resolution{}, err
	}

	s.emit(ctx, events.Event{
		Type:       events.ConflictResolved,
		DocumentID: saved.ID,
		ActorID:    actor.ID,
		At:         saved.UpdatedAt,
		Data:       map[string]any{"strategy": strategy, "version": saved.Version},
	})
	return Resolution{DocumentID: saved.ID, Strategy: strategy, Version: saved.Version, Content: saved.Content}, nil
}
