package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pendingReviewIndex = "reviews_one_pending_per_document"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type postgresTx struct {
	tx *sql.Tx
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&postgresTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const documentColumns = `id, version, content, content_digest, status, locked_by, locked_at, created_by, created_at, updated_by, updated_at`

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var lockedBy sql.NullString
	var lockedAt sql.NullTime
	if err := row.Scan(
		&doc.ID, &doc.Version, &doc.Content, &doc.ContentDigest, &doc.Status,
		&lockedBy, &lockedAt, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedBy, &doc.UpdatedAt,
	); err != nil {
		return Document{}, err
	}
	doc.LockedBy = lockedBy.String
	if lockedAt.Valid {
		t := lockedAt.Time
		doc.LockedAt = &t
	}
	return doc, nil
}

func getDocument(ctx context.Context, q queryer, id string, forUpdate bool) (Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("get document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	return getDocument(ctx, s.db, id, false)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status=$1`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	return items, rows.Err()
}

func (t *postgresTx) GetDocument(ctx context.Context, id string) (Document, error) {
	return getDocument(ctx, t.tx, id, true)
}

func (t *postgresTx) CreateDocument(ctx context.Context, doc Document) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO documents (id, version, content, content_digest, status, locked_by, locked_at, created_by, created_at, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, doc.ID, doc.Version, doc.Content, doc.ContentDigest, doc.Status, nullString(doc.LockedBy), nullTime(doc.LockedAt),
		doc.CreatedBy, doc.CreatedAt, doc.UpdatedBy, doc.UpdatedAt)
	if isUniqueViolation(err, "documents_pkey") {
		return fmt.Errorf("create document %s: %w", doc.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.ID, err)
	}
	return nil
}

func (t *postgresTx) UpdateDocument(ctx context.Context, doc Document, expectedVersion int64) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE documents
		SET version=$2, content=$3, content_digest=$4, status=$5, locked_by=$6, locked_at=$7, updated_by=$8, updated_at=$9
		WHERE id=$1 AND version=$10
	`, doc.ID, doc.Version, doc.Content, doc.ContentDigest, doc.Status, nullString(doc.LockedBy), nullTime(doc.LockedAt),
		doc.UpdatedBy, doc.UpdatedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("update document %s: %w", doc.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := getDocument(ctx, t.tx, doc.ID, false); err != nil {
			return err
		}
		return fmt.Errorf("update document %s: %w", doc.ID, ErrVersionConflict)
	}
	return nil
}

const reviewColumns = `id, document_id, document_version, submitter_id, submitted_at, submit_comment, auto_check, current_stage,
	supervisor_decision, manager_decision, manager_id, final_status, completed_at, updated_at`

func scanReview(row rowScanner) (Review, error) {
	var review Review
	var autoCheck, supervisorDecision []byte
	var managerDecision []byte
	var completedAt sql.NullTime
	if err := row.Scan(
		&review.ID, &review.DocumentID, &review.DocumentVersion, &review.SubmitterID, &review.SubmittedAt,
		&review.SubmitComment, &autoCheck, &review.CurrentStage, &supervisorDecision, &managerDecision,
		&review.ManagerReviewerID, &review.FinalStatus, &completedAt, &review.UpdatedAt,
	); err != nil {
		return Review{}, err
	}
	if err := json.Unmarshal(autoCheck, &review.AutoCheck); err != nil {
		return Review{}, fmt.Errorf("decode auto check: %w", err)
	}
	if review.AutoCheck.Issues == nil {
		review.AutoCheck.Issues = []Issue{}
	}
	if err := json.Unmarshal(supervisorDecision, &review.SupervisorDecision); err != nil {
		return Review{}, fmt.Errorf("decode supervisor decision: %w", err)
	}
	if len(managerDecision) > 0 {
		var decision StageDecision
		if err := json.Unmarshal(managerDecision, &decision); err != nil {
			return Review{}, fmt.Errorf("decode manager decision: %w", err)
		}
		review.ManagerDecision = &decision
	}
	if completedAt.Valid {
		t := completedAt.Time
		review.CompletedAt = &t
	}
	return review, nil
}

func getReview(ctx context.Context, q queryer, id string, forUpdate bool) (Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	review, err := scanReview(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Review{}, fmt.Errorf("get review %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Review{}, fmt.Errorf("get review %s: %w", id, err)
	}
	return review, nil
}

func (s *PostgresStore) GetReview(ctx context.Context, id string) (Review, error) {
	return getReview(ctx, s.db, id, false)
}

func (s *PostgresStore) ListReviews(ctx context.Context, filter ReviewFilter) ([]Review, error) {
	var where []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.ReviewerID != "" {
		add(`(supervisor_id=? OR manager_id=?)`, filter.ReviewerID)
	}
	if filter.SubmitterID != "" {
		add(`submitter_id=?`, filter.SubmitterID)
	}
	if filter.DocumentID != "" {
		add(`document_id=?`, filter.DocumentID)
	}
	if filter.Status != "" {
		add(`final_status=?`, filter.Status)
	}

	query := `SELECT ` + reviewColumns + ` FROM reviews`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY submitted_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, review)
	}
	return items, rows.Err()
}

func (t *postgresTx) GetReview(ctx context.Context, id string) (Review, error) {
	return getReview(ctx, t.tx, id, true)
}

func (t *postgresTx) PendingReview(ctx context.Context, documentID string) (Review, bool, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE document_id=$1 AND final_status='pending' FOR UPDATE`
	review, err := scanReview(t.tx.QueryRowContext(ctx, query, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Review{}, false, nil
	}
	if err != nil {
		return Review{}, false, fmt.Errorf("pending review %s: %w", documentID, err)
	}
	return review, true, nil
}

func reviewArgs(review Review) ([]any, error) {
	autoCheck := review.AutoCheck
	if autoCheck.Issues == nil {
		autoCheck.Issues = []Issue{}
	}
	autoCheckJSON, err := json.Marshal(autoCheck)
	if err != nil {
		return nil, fmt.Errorf("encode auto check: %w", err)
	}
	supervisorJSON, err := json.Marshal(review.SupervisorDecision)
	if err != nil {
		return nil, fmt.Errorf("encode supervisor decision: %w", err)
	}
	var managerJSON any
	if review.ManagerDecision != nil {
		encoded, err := json.Marshal(review.ManagerDecision)
		if err != nil {
			return nil, fmt.Errorf("encode manager decision: %w", err)
		}
		managerJSON = string(encoded)
	}
	return []any{
		review.ID, review.DocumentID, review.DocumentVersion, review.SubmitterID, review.SubmittedAt,
		review.SubmitComment, string(autoCheckJSON), review.CurrentStage, review.SupervisorDecision.ReviewerID,
		string(supervisorJSON), managerJSON, review.ManagerReviewerID, review.FinalStatus,
		nullTime(review.CompletedAt), review.UpdatedAt,
	}, nil
}

func (t *postgresTx) CreateReview(ctx context.Context, review Review) error {
	args, err := reviewArgs(review)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO reviews (id, document_id, document_version, submitter_id, submitted_at, submit_comment, auto_check,
			current_stage, supervisor_id, supervisor_decision, manager_decision, manager_id, final_status, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10::jsonb, $11::jsonb, $12, $13, $14, $15)
	`, args...)
	if isUniqueViolation(err, pendingReviewIndex) {
		return fmt.Errorf("create review for %s: %w", review.DocumentID, ErrPendingReviewExists)
	}
	if isUniqueViolation(err, "reviews_pkey") {
		return fmt.Errorf("create review %s: %w", review.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create review %s: %w", review.ID, err)
	}
	return nil
}

func (t *postgresTx) UpdateReview(ctx context.Context, review Review) error {
	args, err := reviewArgs(review)
	if err != nil {
		return err
	}
	// Submission fields and the auto-check result are immutable once created.
	result, err := t.tx.ExecContext(ctx, `
		UPDATE reviews
		SET current_stage=$2, supervisor_id=$3, supervisor_decision=$4::jsonb, manager_decision=$5::jsonb,
			manager_id=$6, final_status=$7, completed_at=$8, updated_at=$9
		WHERE id=$1
	`, args[0], args[7], args[8], args[9], args[10], args[11], args[12], args[13], args[14])
	if err != nil {
		return fmt.Errorf("update review %s: %w", review.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update review rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update review %s: %w", review.ID, ErrNotFound)
	}
	return nil
}

const taskColumns = `id, document_id, assigner_id, assignee_id, assigned_at, priority, due_date, status, progress, updated_at`

func scanTask(row rowScanner) (Task, error) {
	var task Task
	var dueDate sql.NullTime
	if err := row.Scan(
		&task.ID, &task.DocumentID, &task.AssignerID, &task.AssigneeID, &task.AssignedAt,
		&task.Priority, &dueDate, &task.Status, &task.Progress, &task.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	if dueDate.Valid {
		t := dueDate.Time
		task.DueDate = &t
	}
	return task, nil
}

func loadTimeline(ctx context.Context, q queryer, taskID string) (Timeline, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT event_type, actor_id, actor_name, occurred_at, note
		FROM task_timeline
		WHERE task_id=$1
		ORDER BY seq ASC
	`, taskID)
	if err != nil {
		return Timeline{}, fmt.Errorf("list timeline %s: %w", taskID, err)
	}
	defer rows.Close()

	var timeline Timeline
	for rows.Next() {
		var event TimelineEvent
		if err := rows.Scan(&event.Type, &event.ActorID, &event.ActorName, &event.Timestamp, &event.Note); err != nil {
			return Timeline{}, fmt.Errorf("scan timeline event: %w", err)
		}
		timeline.Append(event)
	}
	return timeline, rows.Err()
}

func getTask(ctx context.Context, q queryer, id string, forUpdate bool) (Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	task, err := scanTask(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	task.Timeline, err = loadTimeline(ctx, q, id)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (Task, error) {
	return getTask(ctx, s.db, id, false)
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	var where []string
	var args []any
	add := func(column, value string) {
		args = append(args, value)
		where = append(where, column+"=$"+strconv.Itoa(len(args)))
	}
	if filter.AssigneeID != "" {
		add("assignee_id", filter.AssigneeID)
	}
	if filter.AssignerID != "" {
		add("assigner_id", filter.AssignerID)
	}
	if filter.DocumentID != "" {
		add("document_id", filter.DocumentID)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY assigned_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	items := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range items {
		items[i].Timeline, err = loadTimeline(ctx, s.db, items[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (t *postgresTx) GetTask(ctx context.Context, id string) (Task, error) {
	return getTask(ctx, t.tx, id, true)
}

func (t *postgresTx) CreateTask(ctx context.Context, task Task) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO tasks (id, document_id, assigner_id, assignee_id, assigned_at, priority, due_date, status, progress, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, task.ID, task.DocumentID, task.AssignerID, task.AssigneeID, task.AssignedAt, task.Priority,
		nullTime(task.DueDate), task.Status, task.Progress, task.UpdatedAt)
	if isUniqueViolation(err, "tasks_pkey") {
		return fmt.Errorf("create task %s: %w", task.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	for _, event := range task.Timeline.Events() {
		if err := t.AppendTimeline(ctx, task.ID, event); err != nil {
			return err
		}
	}
	return nil
}

func (t *postgresTx) UpdateTask(ctx context.Context, task Task) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET status=$2, progress=$3, updated_at=$4 WHERE id=$1
	`, task.ID, task.Status, task.Progress, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update task %s: %w", task.ID, ErrNotFound)
	}
	return nil
}

func (t *postgresTx) AppendTimeline(ctx context.Context, taskID string, event TimelineEvent) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO task_timeline (task_id, seq, event_type, actor_id, actor_name, occurred_at, note)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6
		FROM task_timeline
		WHERE task_id=$1
	`, taskID, event.Type, event.ActorID, event.ActorName, event.Timestamp, event.Note)
	if err != nil {
		return fmt.Errorf("append timeline %s: %w", taskID, err)
	}
	return nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
