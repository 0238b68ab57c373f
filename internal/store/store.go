package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrVersionConflict     = errors.New("version conflict")
	ErrPendingReviewExists = errors.New("pending review exists")
	ErrAlreadyExists       = errors.New("already exists")
)

// Tx is the write surface of one atomic unit of work. Reads made through a
// Tx see the Tx's own writes.
type Tx interface {
	GetDocument(ctx context.Context, id string) (Document, error)
	CreateDocument(ctx context.Context, doc Document) error
	// UpdateDocument writes doc only if the stored version still equals
	// expectedVersion, otherwise it returns ErrVersionConflict.
	UpdateDocument(ctx context.Context, doc Document, expectedVersion int64) error

	GetReview(ctx context.Context, id string) (Review, error)
	PendingReview(ctx context.Context, documentID string) (Review, bool, error)
	CreateReview(ctx context.Context, review Review) error
	UpdateReview(ctx context.Context, review Review) error

	GetTask(ctx context.Context, id string) (Task, error)
	CreateTask(ctx context.Context, task Task) error
	// UpdateTask persists status, progress and updatedAt. The timeline is
	// only ever extended through AppendTimeline.
	UpdateTask(ctx context.Context, task Task) error
	AppendTimeline(ctx context.Context, taskID string, event TimelineEvent) error
}

type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error

	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error)
	GetReview(ctx context.Context, id string) (Review, error)
	ListReviews(ctx context.Context, filter ReviewFilter) ([]Review, error)
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)

	Ping(ctx context.Context) error
}

func (f ReviewFilter) matches(review Review) bool {
	if f.ReviewerID != "" && review.SupervisorDecision.ReviewerID != f.ReviewerID && review.ManagerReviewerID != f.ReviewerID {
		return false
	}
	if f.SubmitterID != "" && review.SubmitterID != f.SubmitterID {
		return false
	}
	if f.DocumentID != "" && review.DocumentID != f.DocumentID {
		return false
	}
	if f.Status != "" && review.FinalStatus != f.Status {
		return false
	}
	return true
}

func (f TaskFilter) matches(task Task) bool {
	if f.AssigneeID != "" && task.AssigneeID != f.AssigneeID {
		return false
	}
	if f.AssignerID != "" && task.AssignerID != f.AssignerID {
		return false
	}
	if f.DocumentID != "" && task.DocumentID != f.DocumentID {
		return false
	}
	if f.Status != "" && task.Status != f.Status {
		return false
	}
	return true
}
