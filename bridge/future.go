package bridge

import (
	"context"
	"errors"
	"sync"
)

// Future is a resolve/reject handle decoupled from its creation.
// The first of `Resolve` or `Reject` wins; later completions are ignored.
type Future[R any] struct {
	once   sync.Once
	done   chan struct{}
	result R
	err    error
}

func NewFuture[R any]() *Future[R] {
	return &Future[R]{
		done: make(chan struct{}),
	}
}

func ResolvedFuture[R any](result R) *Future[R] {
	future := NewFuture[R]()
	future.Resolve(result)
	return future
}

func RejectedFuture[R any](err error) *Future[R] {
	future := NewFuture[R]()
	future.Reject(err)
	return future
}

func (self *Future[R]) Resolve(result R) bool {
	return self.complete(result, nil)
}

func (self *Future[R]) Reject(err error) bool {
	var empty R
	return self.complete(empty, err)
}

func (self *Future[R]) complete(result R, err error) (completed bool) {
	self.once.Do(func() {
		self.result = result
		self.err = err
		close(self.done)
		completed = true
	})
	return
}

func (self *Future[R]) Done() <-chan struct{} {
	return self.done
}

func (self *Future[R]) IsDone() bool {
	select {
	case <-self.done:
		return true
	default:
		return false
	}
}

// Result is only meaningful after `Done` is closed.
func (self *Future[R]) Result() (R, error) {
	select {
	case <-self.done:
		return self.result, self.err
	default:
		var empty R
		return empty, errors.New("Future not done.")
	}
}

// Wait blocks until the future completes or `ctx` is done.
// A context deadline is reported as `ErrTimeout`.
func (self *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-self.done:
		return self.result, self.err
	case <-ctx.Done():
		var empty R
		return empty, contextError(ctx)
	}
}

func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}
