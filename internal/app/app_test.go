package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"docflow/internal/directory"
	"docflow/internal/events"
	"docflow/internal/gitrepo"
	"docflow/internal/publish"
	"docflow/internal/rbac"
	"docflow/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type archivedCommit struct {
	DocumentID string
	Version    int64
	Content    string
}

type archivedTag struct {
	DocumentID string
	Version    int64
	ReviewID   string
}

type fakeArchive struct {
	mu      sync.Mutex
	commits []archivedCommit
	tags    []archivedTag
}

func (a *fakeArchive) CommitVersion(documentID string, version int64, content, author, message string) (gitrepo.Revision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commits = append(a.commits, archivedCommit{DocumentID: documentID, Version: version, Content: content})
	return gitrepo.Revision{Version: version, Author: author, Message: message}, nil
}

func (a *fakeArchive) TagApproval(documentID string, version int64, reviewID, approver string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tags = append(a.tags, archivedTag{DocumentID: documentID, Version: version, ReviewID: reviewID})
	return nil
}

func (a *fakeArchive) History(documentID string, limit int) ([]gitrepo.Revision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var revisions []gitrepo.Revision
	for i := len(a.commits) - 1; i >= 0; i-- {
		if a.commits[i].DocumentID == documentID {
			revisions = append(revisions, gitrepo.Revision{Version: a.commits[i].Version})
		}
	}
	if limit > 0 && len(revisions) > limit {
		revisions = revisions[:limit]
	}
	return revisions, nil
}

func (a *fakeArchive) ContentAt(documentID string, version int64) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, commit := range a.commits {
		if commit.DocumentID == documentID && commit.Version == version {
			return commit.Content, nil
		}
	}
	return "", gitrepo.ErrNoVersion
}

func (a *fakeArchive) versions(documentID string) []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []int64
	for _, commit := range a.commits {
		if commit.DocumentID == documentID {
			out = append(out, commit.Version)
		}
	}
	return out
}

type fakePublisher struct {
	mu        sync.Mutex
	artifacts []publish.Artifact
}

func (p *fakePublisher) Publish(_ context.Context, artifact publish.Artifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.artifacts = append(p.artifacts, artifact)
	return nil
}

// flakyDirectory fails lookups of one actor the way an unreachable
// directory backend would.
type flakyDirectory struct {
	*directory.Static
	flaky string
}

func (d flakyDirectory) Lookup(ctx context.Context, actorID string) (directory.Actor, error) {
	if actorID == d.flaky {
		return directory.Actor{}, errors.New("directory unavailable")
	}
	return d.Static.Lookup(ctx, actorID)
}

type failingChecker struct{}

func (failingChecker) Check(context.Context, string) (store.AutoCheck, error) {
	return store.AutoCheck{}, errors.New("scorer unavailable")
}

type fixture struct {
	svc       *Service
	store     *store.MemoryStore
	clock     *fakeClock
	archive   *fakeArchive
	publisher *fakePublisher
	recorder  *events.Recorder
}

func testActors() []directory.Actor {
	return []directory.Actor{
		{ID: "u_alice", Name: "Alice", Role: rbac.RoleEmployee, SupervisorID: "u_sam", ManagerID: "u_mia"},
		{ID: "u_bob", Name: "Bob", Role: rbac.RoleEmployee, SupervisorID: "u_sam", ManagerID: "u_mia"},
		{ID: "u_sam", Name: "Sam", Role: rbac.RoleSupervisor},
		{ID: "u_sue", Name: "Sue", Role: rbac.RoleSupervisor},
		{ID: "u_mia", Name: "Mia", Role: rbac.RoleManager},
		{ID: "u_max", Name: "Max", Role: rbac.RoleManager},
		{ID: "u_val", Name: "Val", Role: rbac.RoleViewer},
	}
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		store:     store.NewMemoryStore(),
		clock:     &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		archive:   &fakeArchive{},
		publisher: &fakePublisher{},
		recorder:  events.NewRecorder(1024),
	}
	deps := Deps{
		Store:     f.store,
		Directory: directory.NewStatic("", testActors()...),
		Archive:   f.archive,
		Publisher: f.publisher,
		Events:    f.recorder,
		Now:       f.clock.Now,
		LockWait:  time.Second,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	f.svc = NewService(deps)
	return f
}

// draft creates a document owned by u_alice and returns it.
func (f *fixture) draft(t *testing.T, id, content string) store.Document {
	t.Helper()
	doc, err := f.svc.Save(context.Background(), id, 0, content, "u_alice")
	require.NoError(t, err)
	return doc
}

func (f *fixture) submit(t *testing.T, id string) store.Review {
	t.Helper()
	review, err := f.svc.Submit(context.Background(), id, "u_alice", SubmitInput{Comment: "ready"})
	require.NoError(t, err)
	return review
}

func eventTypes(batch []events.Event) []string {
	types := make([]string, 0, len(batch))
	for _, event := range batch {
		types = append(types, event.Type)
	}
	return types
}
