package versioned

import (
	"context"
	"sync"
)

// idLocks serializes writes per logical id. Entries are reference counted
// and dropped once no goroutine holds or waits on them.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

// idLock is held while its one-slot channel is full.
type idLock struct {
	ch   chan struct{}
	refs int
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[string]*idLock)}
}

// Lock blocks until id is free and returns the matching unlock func. It
// gives up with ctx.Err() when ctx ends first.
func (l *idLocks) Lock(ctx context.Context, id string) (unlock func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &idLock{ch: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, lk)
		return nil, ctx.Err()
	}
	return func() {
		<-lk.ch
		l.release(id, lk)
	}, nil
}

func (l *idLocks) release(id string, lk *idLock) {
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}

func (l *idLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
