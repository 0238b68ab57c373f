package search

import (
	"context"
	"log"
	"sync"

	"docflow/internal/events"
	"docflow/internal/store"
)

type entityReader interface {
	storeReader
	GetDocument(ctx context.Context, id string) (store.Document, error)
	GetReview(ctx context.Context, id string) (store.Review, error)
	GetTask(ctx context.Context, id string) (store.Task, error)
}

// Service is the facade that tries Meilisearch first and falls back to a
// store scan. It also keeps the index current by consuming workflow events.
type Service struct {
	meili   *Meili
	scan    *Scan
	reader  entityReader
	pending sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, reader entityReader) *Service {
	return &Service{meili: meili, scan: NewScan(reader), reader: reader}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store scan: %v", err)
	}

	results, total, err := s.scan.Search(ctx, q)
	if err != nil {
		log.Printf("search: store scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Publish reindexes the entities an event touched (fire-and-forget to
// Meilisearch). It never fails the caller.
func (s *Service) Publish(_ context.Context, event events.Event) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.index(context.Background(), event)
	}()
	return nil
}

func (s *Service) index(ctx context.Context, event events.Event) {
	if event.DocumentID != "" {
		if doc, err := s.reader.GetDocument(ctx, event.DocumentID); err != nil {
			log.Printf("search: load document %s: %v", event.DocumentID, err)
		} else if err := s.meili.IndexDocument(documentRecord(doc)); err != nil {
			log.Printf("search: index document %s: %v", doc.ID, err)
		}
	}
	if event.ReviewID != "" {
		if review, err := s.reader.GetReview(ctx, event.ReviewID); err != nil {
			log.Printf("search: load review %s: %v", event.ReviewID, err)
		} else if err := s.meili.IndexReview(reviewRecord(review)); err != nil {
			log.Printf("search: index review %s: %v", review.ID, err)
		}
	}
	if event.TaskID != "" {
		if task, err := s.reader.GetTask(ctx, event.TaskID); err != nil {
			log.Printf("search: load task %s: %v", event.TaskID, err)
		} else if err := s.meili.IndexTask(taskRecord(task)); err != nil {
			log.Printf("search: index task %s: %v", task.ID, err)
		}
	}
}

// ReindexAll reads every entity from the store and pushes it to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	docs, err := s.reader.ListDocuments(ctx, store.DocumentFilter{})
	if err != nil {
		return err
	}
	reviews, err := s.reader.ListReviews(ctx, store.ReviewFilter{})
	if err != nil {
		return err
	}
	tasks, err := s.reader.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return err
	}

	documentRecords := make([]DocumentRecord, 0, len(docs))
	for _, doc := range docs {
		documentRecords = append(documentRecords, documentRecord(doc))
	}
	reviewRecords := make([]ReviewRecord, 0, len(reviews))
	for _, review := range reviews {
		reviewRecords = append(reviewRecords, reviewRecord(review))
	}
	taskRecords := make([]TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		taskRecords = append(taskRecords, taskRecord(task))
	}
	return s.meili.IndexAll(documentRecords, reviewRecords, taskRecords)
}

// Close waits for in-flight indexing and stops the Meilisearch health loop.
func (s *Service) Close() {
	s.pending.Wait()
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
