package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docflow/internal/directory"
	"docflow/internal/events"
	"docflow/internal/locker"
	"docflow/internal/rbac"
	"docflow/internal/store"
	"docflow/internal/util"
)

type AssignInput struct {
	DocumentID string     `json:"documentId"`
	AssignerID string     `json:"-"`
	AssigneeID string     `json:"assigneeId"`
	Priority   string     `json:"priority"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
}

// TaskView is a task as presented to readers, with overdue derived from the
// clock at read time.
type TaskView struct {
	store.Task
	Overdue bool `json:"overdue"`
}

// taskTransitions maps from-status to the allowed target statuses and the
// timeline event each transition appends.
var taskTransitions = map[string]map[string]string{
	store.TaskTodo: {
		store.TaskInProgress: store.EventStarted,
	},
	store.TaskInProgress: {
		store.TaskCompleted: store.EventCompleted,
		store.TaskBlocked:   store.EventBlocked,
	},
	store.TaskBlocked: {
		store.TaskInProgress: store.EventStatusChanged,
	},
}

func (s *Service) view(task store.Task) TaskView {
	now := s.clock.now()
	overdue := task.DueDate != nil && now.After(*task.DueDate) && task.Status != store.TaskCompleted
	return TaskView{Task: task, Overdue: overdue}
}

func (s *Service) GetTask(ctx context.Context, taskID string) (TaskView, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return TaskView{}, notFound(err, "task", taskID)
	}
	return s.view(task), nil
}

func (s *Service) ListTasks(ctx context.Context, filter store.TaskFilter) ([]TaskView, error) {
	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, s.view(task))
	}
	return views, nil
}

func (s *Service) Assign(ctx context.Context, input AssignInput) (TaskView, error) {
	assigner, err := s.actor(ctx, input.AssignerID)
	if err != nil {
		return TaskView{}, err
	}
	if !rbac.Can(assigner.Role, rbac.ActionAssign) {
		return TaskView{}, ErrForbidden.with("Actor cannot assign tasks", nil)
	}
	priority := strings.TrimSpace(input.Priority)
	if priority == "" {
		priority = store.PriorityNormal
	}
	if !store.ValidPriority(priority) {
		return TaskView{}, ErrValidation.with("Unknown priority", map[string]any{"priority": input.Priority})
	}
	assignee, err := s.directory.Lookup(ctx, strings.TrimSpace(input.AssigneeID))
	if errors.Is(err, directory.ErrUnknownActor) {
		return TaskView{}, ErrValidation.with("Unknown assignee", map[string]any{"assigneeId": input.AssigneeID})
	}
	if err != nil {
		return TaskView{}, fmt.Errorf("lookup assignee %s: %w", input.AssigneeID, err)
	}

	var task store.Task
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetDocument(ctx, input.DocumentID); err != nil {
			return notFound(err, "document", input.DocumentID)
		}
		now := s.clock.Now()
		task = store.Task{
			ID:         util.NewID("task"),
			DocumentID: input.DocumentID,
			AssignerID: assigner.ID,
			AssigneeID: assignee.ID,
			AssignedAt: now,
			Priority:   priority,
			DueDate:    input.DueDate,
			Status:     store.TaskTodo,
			Progress:   0,
			Timeline: store.NewTimeline(store.TimelineEvent{
				Type:      store.EventAssigned,
				ActorID:   assigner.ID,
				ActorName: assigner.Name,
				Timestamp: now,
			}),
			UpdatedAt: now,
		}
		return tx.CreateTask(ctx, task)
	})
	if err != nil {
		return TaskView{}, err
	}

	s.emit(ctx, events.Event{
		Type:       events.TaskAssigned,
		DocumentID: task.DocumentID,
		TaskID:     task.ID,
		ActorID:    assigner.ID,
		At:         task.AssignedAt,
		Data:       map[string]any{"assigneeId": task.AssigneeID, "priority": task.Priority},
	})
	return s.view(task), nil
}

// UpdateStatus moves a task along the status graph. Only the assignee may
// do so, and blocking requires a note.
func (s *Service) UpdateStatus(ctx context.Context, taskID, newStatus, actorID, note string) (TaskView, error) {
	note = strings.TrimSpace(note)
	var (
		task store.Task
		from string
	)
	err := s.withLock(ctx, locker.TaskKey(taskID), func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx store.Tx) error {
			current, err := tx.GetTask(ctx, taskID)
			if err != nil {
				return notFound(err, "task", taskID)
			}
			if current.AssigneeID != actorID {
				return ErrForbidden.with("Only the assignee can update the task", nil)
			}
			eventType, ok := taskTransitions[current.Status][newStatus]
			if !ok {
				return ErrInvalidTransition.with(fmt.Sprintf("Cannot move task from %s to %s", current.Status, newStatus), map[string]any{
					"from": current.Status,
					"to":   newStatus,
				})
			}
			if newStatus == store.TaskBlocked && note == "" {
				return ErrValidation.with("Blocking a task requires a note", nil)
			}

			now := s.clock.Now()
			from = current.Status
			current.Status = newStatus
			if newStatus == store.TaskCompleted {
				current.Progress = 100
			}
			current.UpdatedAt = now
			if err := tx.UpdateTask(ctx, current); err != nil {
				return err
			}
			event := store.TimelineEvent{
				Type:      eventType,
				ActorID:   actorID,
				ActorName: s.actorName(ctx, actorID),
				Timestamp: now,
				Note:      note,
			}
			if err := tx.AppendTimeline(ctx, taskID, event); err != nil {
				return err
			}
			current.Timeline.Append(event)
			task = current
			return nil
		})
	})
	if err != nil {
		return TaskView{}, err
	}

	s.emit(ctx, events.Event{
		Type:       events.TaskStatusChanged,
		DocumentID: task.DocumentID,
		TaskID:     task.ID,
		ActorID:    actorID,
		At:         task.UpdatedAt,
		Data:       map[string]any{"from": from, "to": task.Status, "note": note},
	})
	return s.view(task), nil
}

// UpdateProgress records progress on an open task. Reaching 100 completes
// the task in the same transaction.
func (s *Service) UpdateProgress(ctx context.Context, taskID string, value int, actorID string) (TaskView, error) {
	var (
		task    store.Task
		changed bool
	)
	err := s.withLock(ctx, locker.TaskKey(taskID), func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx store.Tx) error {
			current, err := tx.GetTask(ctx, taskID)
			if err != nil {
				return notFound(err, "task", taskID)
			}
			if current.AssigneeID != actorID {
				return ErrForbidden.with("Only the assignee can update the task", nil)
			}
			if value < 0 || value > 100 {
				return ErrOutOfRange.with(fmt.Sprintf("Progress %d is out of range", value), map[string]any{"value": value})
			}
			if current.Status == store.TaskCompleted || current.Status == store.TaskBlocked {
				return ErrInvalidTransition.with(fmt.Sprintf("Cannot update progress of a %s task", current.Status), nil)
			}
			task = current
			if value == current.Progress {
				return nil
			}

			now := s.clock.Now()
			name := s.actorName(ctx, actorID)
			var appended []store.TimelineEvent
			if current.Status == store.TaskTodo && value > 0 {
				current.Status = store.TaskInProgress
				appended = append(appended, store.TimelineEvent{Type: store.EventStarted, ActorID: actorID, ActorName: name, Timestamp: now})
			}
			current.Progress = value
			appended = append(appended, store.TimelineEvent{
				Type: store.EventProgressUpdated, ActorID: actorID, ActorName: name, Timestamp: now,
				Note: fmt.Sprintf("%d%%", value),
			})
			if value == 100 {
				current.Status = store.TaskCompleted
				appended = append(appended, store.TimelineEvent{Type: store.EventCompleted, ActorID: actorID, ActorName: name, Timestamp: now})
			}
			current.UpdatedAt = now

			if err := tx.UpdateTask(ctx, current); err != nil {
				return err
			}
			for _, event := range appended {
				if err := tx.AppendTimeline(ctx, taskID, event); err != nil {
					return err
				}
				current.Timeline.Append(event)
			}
			task = current
			changed = true
			return nil
		})
	})
	if err != nil {
		return TaskView{}, err
	}

	if changed {
		s.emit(ctx, events.Event{
			Type:       events.TaskProgressUpdated,
			DocumentID: task.DocumentID,
			TaskID:     task.ID,
			ActorID:    actorID,
			At:         task.UpdatedAt,
			Data:       map[string]any{"progress": task.Progress, "status": task.Status},
		})
	}
	return s.view(task), nil
}

func (s *Service) actorName(ctx context.Context, actorID string) string {
	actor, err := s.directory.Lookup(ctx, actorID)
	if err != nil || actor.Name == "" {
		return actorID
	}
	return actor.Name
}
