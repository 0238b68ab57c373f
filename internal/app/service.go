package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"docflow/internal/autocheck"
	"docflow/internal/directory"
	"docflow/internal/events"
	"docflow/internal/gitrepo"
	"docflow/internal/locker"
	"docflow/internal/publish"
	"docflow/internal/search"
	"docflow/internal/store"
)

// Archive keeps the content of every accepted document version.
type Archive interface {
	CommitVersion(documentID string, version int64, content, author, message string) (gitrepo.Revision, error)
	TagApproval(documentID string, version int64, reviewID, approver string) error
	History(documentID string, limit int) ([]gitrepo.Revision, error)
	ContentAt(documentID string, version int64) (string, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

// Deps are the collaborators of a Service. Store and Directory are
// required; the rest fall back to local or no-op implementations.
type Deps struct {
	Store     store.Store
	Directory directory.Directory
	Locker    locker.Locker
	Checker   autocheck.Checker
	Archive   Archive
	Publisher publish.Publisher
	Events    events.Sink
	Search    Searcher
	Now       func() time.Time
	// LockWait bounds how long an operation waits for an entity lock.
	LockWait time.Duration
}

type Service struct {
	store     store.Store
	directory directory.Directory
	locker    locker.Locker
	checker   autocheck.Checker
	archive   Archive
	publisher publish.Publisher
	events    events.Sink
	search    Searcher
	clock     *monotonicClock
	lockWait  time.Duration
}

func NewService(deps Deps) *Service {
	s := &Service{
		store:     deps.Store,
		directory: deps.Directory,
		locker:    deps.Locker,
		checker:   deps.Checker,
		archive:   deps.Archive,
		publisher: deps.Publisher,
		events:    deps.Events,
		search:    deps.Search,
		clock:     newMonotonicClock(deps.Now),
		lockWait:  deps.LockWait,
	}
	if s.locker == nil {
		s.locker = locker.NewLocal()
	}
	if s.checker == nil {
		s.checker = autocheck.NewHeuristic()
	}
	if s.events == nil {
		s.events = events.LogSink{}
	}
	if s.search == nil {
		s.search = search.NewService(nil, deps.Store)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

// monotonicClock never hands out a timestamp earlier than one it already
// returned, so timeline and review timestamps sort in write order.
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newMonotonicClock(now func() time.Time) *monotonicClock {
	if now == nil {
		now = time.Now
	}
	return &monotonicClock{now: now}
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) && !c.last.IsZero() {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// withLock runs fn while holding the entity lock for key. Only acquisition
// is bounded by lockWait.
func (s *Service) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	lockCtx := ctx
	if s.lockWait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockWait)
		defer cancel()
	}
	release, err := s.locker.Lock(lockCtx, key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrBusy.with(fmt.Sprintf("Timed out waiting for %s", key), nil)
		}
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer release()
	return fn(ctx)
}

// actor resolves an actor id through the directory. Unknown actors have no
// role and are rejected.
func (s *Service) actor(ctx context.Context, actorID string) (directory.Actor, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return directory.Actor{}, ErrUnauthorized.with("Actor identity is required", nil)
	}
	actor, err := s.directory.Lookup(ctx, actorID)
	if errors.Is(err, directory.ErrUnknownActor) {
		return directory.Actor{}, ErrUnauthorized.with("Unknown actor", map[string]any{"actorId": actorID})
	}
	if err != nil {
		return directory.Actor{}, fmt.Errorf("lookup actor %s: %w", actorID, err)
	}
	return actor, nil
}

// emit publishes events after their transaction committed. Sink failures
// are logged and never surface to the caller.
func (s *Service) emit(ctx context.Context, batch ...events.Event) {
	for _, event := range batch {
		if err := s.events.Publish(ctx, event); err != nil {
			log.Printf("events: publish %s: %v", event.Type, err)
		}
	}
}

func notFound(err error, what, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound.with(fmt.Sprintf("%s not found", what), map[string]any{"id": id})
	}
	return err
}
