package search

import (
	"context"
	"strings"

	"docflow/internal/store"
)

type storeReader interface {
	ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]store.Document, error)
	ListReviews(ctx context.Context, filter store.ReviewFilter) ([]store.Review, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.Task, error)
}

// Scan answers queries by reading the workflow tables directly. It is the
// fallback when Meilisearch is not configured or unhealthy.
type Scan struct {
	reader storeReader
}

func NewScan(reader storeReader) *Scan {
	return &Scan{reader: reader}
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var matched []Result

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docs, err := s.reader.ListDocuments(ctx, store.DocumentFilter{Status: q.FilterStatus})
		if err != nil {
			return nil, 0, err
		}
		for _, doc := range docs {
			record := documentRecord(doc)
			if contains(needle, record.ID, record.Content) {
				matched = append(matched, Result{
					Type: ResultDocument, ID: record.ID, Title: record.ID, DocumentID: record.ID,
					Snippet: snippet(record.Content, needle), Status: record.Status,
				})
			}
		}
	}

	if q.FilterType == "" || q.FilterType == ResultReview {
		reviews, err := s.reader.ListReviews(ctx, store.ReviewFilter{Status: q.FilterStatus})
		if err != nil {
			return nil, 0, err
		}
		for _, review := range reviews {
			record := reviewRecord(review)
			if contains(needle, record.SubmitComment, record.Comments) {
				matched = append(matched, Result{
					Type: ResultReview, ID: record.ID, Title: "Review of " + record.DocumentID, DocumentID: record.DocumentID,
					Snippet: snippet(joinNonBlank([]string{record.Comments, record.SubmitComment}), needle), Status: record.Status,
				})
			}
		}
	}

	if q.FilterType == "" || q.FilterType == ResultTask {
		tasks, err := s.reader.ListTasks(ctx, store.TaskFilter{Status: q.FilterStatus})
		if err != nil {
			return nil, 0, err
		}
		for _, task := range tasks {
			record := taskRecord(task)
			if contains(needle, record.Notes) {
				matched = append(matched, Result{
					Type: ResultTask, ID: record.ID, Title: record.Priority + " task for " + record.DocumentID,
					DocumentID: record.DocumentID, Snippet: snippet(record.Notes, needle), Status: record.Status,
				})
			}
		}
	}

	total := len(matched)
	return page(matched, q.Offset, q.Limit), total, nil
}

func contains(needle string, fields ...string) bool {
	if needle == "" {
		return true
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// snippet returns up to 160 bytes of text around the first match.
func snippet(text, needle string) string {
	const width = 160
	if len(text) <= width {
		return text
	}
	start := 0
	if needle != "" {
		if at := strings.Index(strings.ToLower(text), needle); at > width/2 {
			start = at - width/2
		}
	}
	end := start + width
	if end > len(text) {
		end = len(text)
	}
	return strings.ToValidUTF8(text[start:end], "")
}

func page(results []Result, offset, limit int) []Result {
	if limit <= 0 {
		limit = 20
	}
	if offset >= len(results) {
		return []Result{}
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}
