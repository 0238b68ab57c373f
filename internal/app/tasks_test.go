package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/directory"
	"docflow/internal/events"
	"docflow/internal/store"
)

func (f *fixture) assign(t *testing.T, documentID string) TaskView {
	t.Helper()
	task, err := f.svc.Assign(context.Background(), AssignInput{
		DocumentID: documentID,
		AssignerID: "u_sam",
		AssigneeID: "u_alice",
		Priority:   store.PriorityUrgent,
	})
	require.NoError(t, err)
	return task
}

func TestTaskScenarioBlockedNeedsNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, "doc-1", "content")

	task := f.assign(t, "doc-1")
	assert.Equal(t, store.TaskTodo, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.Equal(t, store.PriorityUrgent, task.Priority)
	require.Equal(t, 1, task.Timeline.Len())
	first, _ := task.Timeline.Last()
	assert.Equal(t, store.EventAssigned, first.Type)
	assert.Equal(t, "Sam", first.ActorName)

	task, err := f.svc.UpdateStatus(ctx, task.ID, store.TaskInProgress, "u_alice", "")
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, task.ID, store.TaskBlocked, "u_alice", "")
	require.ErrorIs(t, err, ErrValidation)

	task, err = f.svc.UpdateStatus(ctx, task.ID, store.TaskBlocked, "u_alice", "missing sources")
	require.NoError(t, err)
	assert.Equal(t, store.TaskBlocked, task.Status)

	stored, err := f.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 3, stored.Timeline.Len())
	last, _ := stored.Timeline.Last()
	assert.Equal(t, store.EventBlocked, last.Type)
	assert.Equal(t, "missing sources", last.Note)
	assert.Equal(t, "Alice", last.ActorName)

	task, err = f.svc.UpdateStatus(ctx, task.ID, store.TaskInProgress, "u_alice", "unblocked")
	require.NoError(t, err)
	last, _ = task.Timeline.Last()
	assert.Equal(t, store.EventStatusChanged, last.Type)
}

func TestProgressToHundredCompletesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, "doc-1", "content")
	task := f.assign(t, "doc-1")

	task, err := f.svc.UpdateProgress(ctx, task.ID, 100, "u_alice")
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)

	stored, err := f.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	types := make([]string, 0, stored.Timeline.Len())
	for _, event := range stored.Timeline.Events() {
		types = append(types, event.Type)
	}
	assert.Equal(t, []string{store.EventAssigned, store.EventStarted, store.EventProgressUpdated, store.EventCompleted}, types)
	assert.Equal(t, 1, stored.Timeline.Count(store.EventCompleted))

	_, err = f.svc.UpdateProgress(ctx, task.ID, 100, "u_alice")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.UpdateStatus(ctx, task.ID, store.TaskCompleted, "u_alice", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	stored, err = f.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Timeline.Count(store.EventCompleted))
}

func TestCompletingByStatusForcesFullProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, "doc-1", "content")
	task := f.assign(t, "doc-1")

	task, err := f.svc.UpdateProgress(ctx, task.ID, 40, "u_alice")
	require.NoError(t, err)
	assert.Equal(t, store.TaskInProgress, task.Status)
	assert.Equal(t, 40, task.Progress)

	task, err = f.svc.UpdateStatus(ctx, task.ID, store.TaskCompleted, "u_alice", "")
	require.NoError(t, err)
	assert.Equal(t, 100, task.Progress)
}

func TestProgressGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, "doc-1", "content")
	task := f.assign(t, "doc-1")
	f.recorder.Drain()

	_, err := f.svc.UpdateProgress(ctx, task.ID, 10, "u_bob")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.UpdateProgress(ctx, task.ID, -1, "u_alice")
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = f.svc.UpdateProgress(ctx, task.ID, 101, "u_alice")
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = f.svc.UpdateProgress(ctx, "task_missing", 10, "u_alice")
	assert.ErrorIs(t, err, ErrNotFound)

	unchanged, err := f.svc.UpdateProgress(ctx, task.ID, 0, "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 1, unchanged.Timeline.Len())
	assert.Empty(t, f.recorder.Drain())

	_, err = f.svc.UpdateStatus(ctx, task.ID, store.TaskInProgress, "u_alice", "")
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, task.ID, store.TaskBlocked, "u_alice", "waiting on legal")
	require.NoError(t, err)
	_, err = f.svc.UpdateProgress(ctx, task.ID, 50, "u_alice")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStatusTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{store.TaskTodo, store.TaskInProgress, true},
		{store.TaskTodo, store.TaskCompleted, false},
		{store.TaskTodo, store.TaskBlocked, false},
		{store.TaskInProgress, store.TaskCompleted, true},
		{store.TaskInProgress, store.TaskBlocked, true},
		{store.TaskInProgress, store.TaskTodo, false},
		{store.TaskBlocked, store.TaskInProgress, true},
		{store.TaskBlocked, store.TaskCompleted, false},
		{store.TaskCompleted, store.TaskInProgress, false},
		{store.TaskCompleted, store.TaskBlocked, false},
	}
	for _, tc := range cases {
		t.Run(tc.from+"->"+tc.to, func(t *testing.T) {
			_, ok := taskTransitions[tc.from][tc.to]
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestUpdateStatusGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, "doc-1", "content")
	task := f.assign(t, "doc-1")

	_, err := f.svc.UpdateStatus(ctx, task.ID, store.TaskInProgress, "u_sam", "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.UpdateStatus(ctx, task.ID, store.TaskCompleted, "u_alice", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.UpdateStatus(ctx, task.ID, "archived", "u_alice", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAssignGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, "doc-1", "content")

	_, err := f.svc.Assign(ctx, AssignInput{DocumentID: "doc-1", AssignerID: "u_alice", AssigneeID: "u_bob"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Assign(ctx, AssignInput{DocumentID: "doc-404", AssignerID: "u_sam", AssigneeID: "u_bob"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Assign(ctx, AssignInput{DocumentID: "doc-1", AssignerID: "u_sam", AssigneeID: "u_bob", Priority: "whenever"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.Assign(ctx, AssignInput{DocumentID: "doc-1", AssignerID: "u_sam", AssigneeID: "u_ghost"})
	assert.ErrorIs(t, err, ErrValidation)

	task, err := f.svc.Assign(ctx, AssignInput{DocumentID: "doc-1", AssignerID: "u_mia", AssigneeID: "u_bob"})
	require.NoError(t, err)
	assert.Equal(t, store.PriorityNormal, task.Priority)
	assert.Contains(t, eventTypes(f.recorder.Drain()), events.TaskAssigned)

	mine, err := f.svc.ListTasks(ctx, store.TaskFilter{AssigneeID: "u_bob"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, task.ID, mine[0].ID)
}

func TestOverdueIsDerivedAtReadTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, "doc-1", "content")
	due := f.clock.Now().Add(24 * time.Hour)

	task, err := f.svc.Assign(ctx, AssignInput{DocumentID: "doc-1", AssignerID: "u_sam", AssigneeID: "u_alice", DueDate: &due})
	require.NoError(t, err)
	assert.False(t, task.Overdue)

	f.clock.Advance(48 * time.Hour)
	view, err := f.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, view.Overdue)

	view, err = f.svc.UpdateProgress(ctx, task.ID, 100, "u_alice")
	require.NoError(t, err)
	assert.False(t, view.Overdue)
}

func TestAssignSurfacesDirectoryFailures(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Directory = flakyDirectory{Static: directory.NewStatic("", testActors()...), flaky: "u_bob"}
	})
	ctx := context.Background()
	f.draft(t, "doc-1", "content")

	_, err := f.svc.Assign(ctx, AssignInput{DocumentID: "doc-1", AssignerID: "u_sam", AssigneeID: "u_bob"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, "directory unavailable")

	_, err = f.svc.Assign(ctx, AssignInput{DocumentID: "doc-1", AssignerID: "u_sam", AssigneeID: "u_ghost"})
	assert.ErrorIs(t, err, ErrValidation)
}
