package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/events"
)

func TestDetectConflictClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, "doc-1", "v1")
	_, err := f.svc.Save(ctx, "doc-1", 1, "v2", "u_bob")
	require.NoError(t, err)

	cases := []struct {
		name    string
		base    int64
		working string
		want    string
	}{
		{"current base", 2, "anything", ConflictClean},
		{"old base same content", 1, "v2", ConflictStale},
		{"old base different content", 1, "mine", ConflictConflicting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report, err := f.svc.DetectConflict(ctx, "doc-1", tc.base, tc.working)
			require.NoError(t, err)
			assert.Equal(t, tc.want, report.Classification)
			assert.Equal(t, int64(2), report.CurrentVersion)
			assert.Equal(t, "v2", report.CurrentContent)
			assert.Equal(t, contentDigest(tc.working), report.WorkingDigest)
		})
	}

	_, err = f.svc.DetectConflict(ctx, "missing", 1, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveStrategies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, "doc-1", "v1")
	_, err := f.svc.Save(ctx, "doc-1", 1, "remote", "u_bob")
	require.NoError(t, err)
	f.recorder.Drain()

	remote, err := f.svc.ResolveRemote(ctx, "doc-1", "u_alice")
	require.NoError(t, err)
	assert.Equal(t, Resolution{DocumentID: "doc-1", Strategy: StrategyRemote, Version: 2, Content: "remote"}, remote)
	assert.Empty(t, f.recorder.Drain())

	local, err := f.svc.ResolveLocal(ctx, "doc-1", "local", "u_alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), local.Version)
	assert.Equal(t, "local", local.Content)

	manual, err := f.svc.ResolveManual(ctx, "doc-1", "merged", "u_alice")
	require.NoError(t, err)
	assert.Equal(t, int64(4), manual.Version)

	doc, err := f.svc.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "merged", doc.Content)
	assert.Equal(t, contentDigest("merged"), doc.ContentDigest)

	// The new base is clean again.
	report, err := f.svc.DetectConflict(ctx, "doc-1", manual.Version, "merged")
	require.NoError(t, err)
	assert.Equal(t, ConflictClean, report.Classification)

	types := eventTypes(f.recorder.Drain())
	assert.Equal(t, []string{events.ConflictResolved, events.ConflictResolved}, types)
	assert.Equal(t, []int64{1, 2, 3, 4}, f.archive.versions("doc-1"))
}

func TestResolveRespectsLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, "doc-1", "v1")
	f.submit(t, "doc-1")

	_, err := f.svc.ResolveLocal(ctx, "doc-1", "mine", "u_alice")
	assert.ErrorIs(t, err, ErrLocked)
	_, err = f.svc.ResolveManual(ctx, "doc-1", "merged", "u_alice")
	assert.ErrorIs(t, err, ErrLocked)

	remote, err := f.svc.ResolveRemote(ctx, "doc-1", "u_alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), remote.Version)
}
