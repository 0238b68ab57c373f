package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultReview   ResultType = "review"
	ResultTask     ResultType = "task"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	Status     string     `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterStatus string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Status    string `json:"status"`
	Version   int64  `json:"version"`
	UpdatedBy string `json:"updatedBy"`
}

// ReviewRecord is the data we index for a review.
type ReviewRecord struct {
	ID            string `json:"id"`
	DocumentID    string `json:"documentId"`
	SubmitterID   string `json:"submitterId"`
	SubmitComment string `json:"submitComment"`
	Comments      string `json:"comments"`
	Stage         string `json:"stage"`
	Status        string `json:"status"`
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	AssigneeID string `json:"assigneeId"`
	Priority   string `json:"priority"`
	Status     string `json:"status"`
	Notes      string `json:"notes"`
}
