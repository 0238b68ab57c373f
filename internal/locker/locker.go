// Package locker serializes operations on a single workflow entity.
package locker

import (
	"context"
	"sync"
)

// Locker grants exclusive access to a key until the returned release
// function is called. Release is idempotent.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

func DocumentKey(documentID string) string {
	return "document:" + documentID
}

func TaskKey(taskID string) string {
	return "task:" + taskID
}

// Local is an in-process keyed lock. Waiting honours ctx cancellation.
type Local struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: map[string]*keyLock{}}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.releaseRef(key, entry)
		})
	}, nil
}

func (l *Local) releaseRef(key string, entry *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
