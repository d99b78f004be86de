// Package lock serializes work on one key, in process or across instances.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned when a key could not be acquired before the context
// or the retry budget ran out.
var ErrBusy = errors.New("resource busy")

type Locker interface {
	// Acquire blocks until key is held or ctx is done. The returned release
	// func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is a keyed mutex for a single process.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.slots[key]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, sl)
		return nil, errors.Join(ErrBusy, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sl.ch
			l.drop(key, sl)
		})
	}, nil
}

func (l *Local) drop(key string, sl *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.slots, key)
	}
}
