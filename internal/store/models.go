package store

import (
	"time"

	"docflow/internal/rbac"
)

const (
	DocumentDraft         = "draft"
	DocumentPendingReview = "pending_review"
	DocumentApproved      = "approved"
	DocumentRejected      = "rejected"
)

const (
	StageAutoCheck        = rbac.StageAutoCheck
	StageSupervisorReview = rbac.StageSupervisor
	StageManagerReview    = rbac.StageManager
)

const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskBlocked    = "blocked"
)

const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

const (
	EventAssigned        = "assigned"
	EventStarted         = "started"
	EventProgressUpdated = "progress_updated"
	EventCompleted       = "completed"
	EventBlocked         = "blocked"
	EventStatusChanged   = "status_changed"
)

const (
	SeverityError      = "error"
	SeveritySuggestion = "suggestion"
	SeverityWarning    = "warning"
)

type Document struct {
	ID            string     `json:"id"`
	Version       int64      `json:"version"`
	Content       string     `json:"content"`
	ContentDigest string     `json:"contentDigest"`
	Status        string     `json:"status"`
	LockedBy      string     `json:"lockedBy,omitempty"`
	LockedAt      *time.Time `json:"lockedAt,omitempty"`
	CreatedBy     string     `json:"createdBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedBy     string     `json:"updatedBy"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type Issue struct {
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// AutoCheck is the advisory pre-check result stored on a review.
type AutoCheck struct {
	Score  int     `json:"score"`
	Issues []Issue `json:"issues"`
}

type StageDecision struct {
	ReviewerID string     `json:"reviewerId"`
	Decision   string     `json:"decision"`
	Comment    string     `json:"comment,omitempty"`
	DecidedAt  *time.Time `json:"decidedAt,omitempty"`
}

type Review struct {
	ID                 string         `json:"id"`
	DocumentID         string         `json:"documentId"`
	DocumentVersion    int64          `json:"documentVersion"`
	SubmitterID        string         `json:"submitterId"`
	SubmittedAt        time.Time      `json:"submittedAt"`
	SubmitComment      string         `json:"submitComment,omitempty"`
	AutoCheck          AutoCheck      `json:"autoCheck"`
	CurrentStage       string         `json:"currentStage"`
	SupervisorDecision StageDecision  `json:"supervisorDecision"`
	ManagerDecision    *StageDecision `json:"managerDecision,omitempty"`
	// ManagerReviewerID is the manager who will receive the review once the
	// supervisor approves.
	ManagerReviewerID string     `json:"managerReviewerId"`
	FinalStatus       string     `json:"finalStatus"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// AssignedReviewer returns the reviewer expected to decide the current stage.
func (r Review) AssignedReviewer() string {
	switch r.CurrentStage {
	case StageSupervisorReview:
		return r.SupervisorDecision.ReviewerID
	case StageManagerReview:
		if r.ManagerDecision != nil {
			return r.ManagerDecision.ReviewerID
		}
		return r.ManagerReviewerID
	default:
		return ""
	}
}

type TimelineEvent struct {
	Type      string    `json:"type"`
	ActorID   string    `json:"actorId"`
	ActorName string    `json:"actorName"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

type Task struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"documentId"`
	AssignerID string     `json:"assignerId"`
	AssigneeID string     `json:"assigneeId"`
	AssignedAt time.Time  `json:"assignedAt"`
	Priority   string     `json:"priority"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
	Status     string     `json:"status"`
	Progress   int        `json:"progress"`
	Timeline   Timeline   `json:"timeline"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type DocumentFilter struct {
	Status string
}

type ReviewFilter struct {
	ReviewerID  string
	SubmitterID string
	DocumentID  string
	Status      string
}

type TaskFilter struct {
	AssigneeID string
	AssignerID string
	DocumentID string
	Status     string
}

func ValidPriority(priority string) bool {
	switch priority {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

func cloneDocument(doc Document) Document {
	doc.LockedAt = cloneTime(doc.LockedAt)
	return doc
}

func cloneReview(review Review) Review {
	review.AutoCheck.Issues = append([]Issue(nil), review.AutoCheck.Issues...)
	if review.AutoCheck.Issues == nil {
		review.AutoCheck.Issues = []Issue{}
	}
	review.SupervisorDecision.DecidedAt = cloneTime(review.SupervisorDecision.DecidedAt)
	if review.ManagerDecision != nil {
		decision := *review.ManagerDecision
		decision.DecidedAt = cloneTime(decision.DecidedAt)
		review.ManagerDecision = &decision
	}
	review.CompletedAt = cloneTime(review.CompletedAt)
	return review
}

func cloneTask(task Task) Task {
	task.DueDate = cloneTime(task.DueDate)
	task.Timeline = NewTimeline(task.Timeline.events...)
	return task
}
