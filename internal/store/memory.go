package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps the workflow tables in process memory. Transactions are
// serialized on a store-wide mutex and stage their writes until commit.
type MemoryStore struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	documents map[string]Document
	reviews   map[string]Review
	tasks     map[string]Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: map[string]Document{},
		reviews:   map[string]Review{},
		tasks:     map[string]Task{},
	}
}

type memoryTx struct {
	store     *MemoryStore
	documents map[string]Document
	reviews   map[string]Review
	tasks     map[string]Task
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:     s,
		documents: map[string]Document{},
		reviews:   map[string]Review{},
		tasks:     map[string]Task{},
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, doc := range tx.documents {
		s.documents[id] = doc
	}
	for id, review := range tx.reviews {
		s.reviews[id] = review
	}
	for id, task := range tx.tasks {
		s.tasks[id] = task
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("get document %s: %w", id, ErrNotFound)
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, filter DocumentFilter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Document, 0)
	for _, doc := range s.documents {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		items = append(items, cloneDocument(doc))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) GetReview(_ context.Context, id string) (Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	review, ok := s.reviews[id]
	if !ok {
		return Review{}, fmt.Errorf("get review %s: %w", id, ErrNotFound)
	}
	return cloneReview(review), nil
}

func (s *MemoryStore) ListReviews(_ context.Context, filter ReviewFilter) ([]Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Review, 0)
	for _, review := range s.reviews {
		if filter.matches(review) {
			items = append(items, cloneReview(review))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].SubmittedAt.Equal(items[j].SubmittedAt) {
			return items[i].SubmittedAt.After(items[j].SubmittedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Task, 0)
	for _, task := range s.tasks {
		if filter.matches(task) {
			items = append(items, cloneTask(task))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].AssignedAt.Equal(items[j].AssignedAt) {
			return items[i].AssignedAt.After(items[j].AssignedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (tx *memoryTx) GetDocument(ctx context.Context, id string) (Document, error) {
	if doc, ok := tx.documents[id]; ok {
		return cloneDocument(doc), nil
	}
	return tx.store.GetDocument(ctx, id)
}

func (tx *memoryTx) CreateDocument(ctx context.Context, doc Document) error {
	if _, err := tx.GetDocument(ctx, doc.ID); err == nil {
		return fmt.Errorf("create document %s: %w", doc.ID, ErrAlreadyExists)
	}
	tx.documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (tx *memoryTx) UpdateDocument(ctx context.Context, doc Document, expectedVersion int64) error {
	current, err := tx.GetDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("update document %s: %w", doc.ID, ErrVersionConflict)
	}
	tx.documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (tx *memoryTx) GetReview(ctx context.Context, id string) (Review, error) {
	if review, ok := tx.reviews[id]; ok {
		return cloneReview(review), nil
	}
	return tx.store.GetReview(ctx, id)
}

func (tx *memoryTx) PendingReview(ctx context.Context, documentID string) (Review, bool, error) {
	for _, review := range tx.reviews {
		if review.DocumentID == documentID && review.FinalStatus == DecisionPending {
			return cloneReview(review), true, nil
		}
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	for id, review := range tx.store.reviews {
		if _, staged := tx.reviews[id]; staged {
			continue
		}
		if review.DocumentID == documentID && review.FinalStatus == DecisionPending {
			return cloneReview(review), true, nil
		}
	}
	return Review{}, false, nil
}

func (tx *memoryTx) CreateReview(ctx context.Context, review Review) error {
	if _, err := tx.GetReview(ctx, review.ID); err == nil {
		return fmt.Errorf("create review %s: %w", review.ID, ErrAlreadyExists)
	}
	if review.FinalStatus == DecisionPending {
		if _, found, err := tx.PendingReview(ctx, review.DocumentID); err != nil {
			return err
		} else if found {
			return fmt.Errorf("create review for %s: %w", review.DocumentID, ErrPendingReviewExists)
		}
	}
	tx.reviews[review.ID] = cloneReview(review)
	return nil
}

func (tx *memoryTx) UpdateReview(ctx context.Context, review Review) error {
	if _, err := tx.GetReview(ctx, review.ID); err != nil {
		return err
	}
	tx.reviews[review.ID] = cloneReview(review)
	return nil
}

func (tx *memoryTx) GetTask(ctx context.Context, id string) (Task, error) {
	if task, ok := tx.tasks[id]; ok {
		return cloneTask(task), nil
	}
	return tx.store.GetTask(ctx, id)
}

func (tx *memoryTx) CreateTask(ctx context.Context, task Task) error {
	if _, err := tx.GetTask(ctx, task.ID); err == nil {
		return fmt.Errorf("create task %s: %w", task.ID, ErrAlreadyExists)
	}
	tx.tasks[task.ID] = cloneTask(task)
	return nil
}

func (tx *memoryTx) UpdateTask(ctx context.Context, task Task) error {
	current, err := tx.GetTask(ctx, task.ID)
	if err != nil {
		return err
	}
	current.Status = task.Status
	current.Progress = task.Progress
	current.UpdatedAt = task.UpdatedAt
	tx.tasks[task.ID] = current
	return nil
}

func (tx *memoryTx) AppendTimeline(ctx context.Context, taskID string, event TimelineEvent) error {
	current, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	current.Timeline.Append(event)
	tx.tasks[taskID] = current
	return nil
}
