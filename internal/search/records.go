package search

import (
	"strings"

	"docflow/internal/store"
)

func documentRecord(doc store.Document) DocumentRecord {
	return DocumentRecord{
		ID:        doc.ID,
		Content:   doc.Content,
		Status:    doc.Status,
		Version:   doc.Version,
		UpdatedBy: doc.UpdatedBy,
	}
}

func reviewRecord(review store.Review) ReviewRecord {
	comments := []string{review.SupervisorDecision.Comment}
	if review.ManagerDecision != nil {
		comments = append(comments, review.ManagerDecision.Comment)
	}
	return ReviewRecord{
		ID:            review.ID,
		DocumentID:    review.DocumentID,
		SubmitterID:   review.SubmitterID,
		SubmitComment: review.SubmitComment,
		Comments:      joinNonBlank(comments),
		Stage:         review.CurrentStage,
		Status:        review.FinalStatus,
	}
}

func taskRecord(task store.Task) TaskRecord {
	notes := make([]string, 0, task.Timeline.Len())
	for _, event := range task.Timeline.Events() {
		notes = append(notes, event.Note)
	}
	return TaskRecord{
		ID:         task.ID,
		DocumentID: task.DocumentID,
		AssigneeID: task.AssigneeID,
		Priority:   task.Priority,
		Status:     task.Status,
		Notes:      joinNonBlank(notes),
	}
}

func joinNonBlank(values []string) string {
	kept := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			kept = append(kept, value)
		}
	}
	return strings.Join(kept, "\n")
}
