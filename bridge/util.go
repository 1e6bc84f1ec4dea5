package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"
)

// Monitor is a broadcast notification. Each call to `NotifyAll` closes the
// current channel and replaces it, so waiters must re-read `NotifyChannel`
// after every wake.
type Monitor struct {
	mutex  sync.Mutex
	notify chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		notify: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.notify
}

func (self *Monitor) NotifyAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	close(self.notify)
	self.notify = make(chan struct{})
}

type callbackHandle[T any] struct {
	callback T
	active   atomic.Bool
}

// CallbackList makes a copy of the list on update, so that `get` can be
// iterated without holding the lock.
// Callbacks are removed by the function returned from `add`, since function
// values are not comparable.
type CallbackList[T any] struct {
	mutex   sync.Mutex
	handles []*callbackHandle[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		handles: []*callbackHandle[T]{},
	}
}

// get returns the active callbacks in the order they were added
func (self *CallbackList[T]) get() []*callbackHandle[T] {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.handles
}

func (self *CallbackList[T]) add(callback T) func() {
	handle := &callbackHandle[T]{
		callback: callback,
	}
	handle.active.Store(true)

	self.mutex.Lock()
	nextHandles := slices.Clone(self.handles)
	nextHandles = append(nextHandles, handle)
	self.handles = nextHandles
	self.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			self.remove(handle)
		})
	}
}

func (self *CallbackList[T]) remove(handle *callbackHandle[T]) {
	// a removal during an in-progress iteration must not be delivered
	handle.active.Store(false)

	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.Index(self.handles, handle)
	if i < 0 {
		// not present
		return
	}
	nextHandles := slices.Clone(self.handles)
	nextHandles = slices.Delete(nextHandles, i, i+1)
	self.handles = nextHandles
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.handles)
}

// each calls `do` for every callback that is still active at its turn.
// Panics are recovered per callback.
func (self *CallbackList[T]) each(do func(callback T)) {
	for _, handle := range self.get() {
		if !handle.active.Load() {
			continue
		}
		HandleError(func() {
			do(handle.callback)
		})
	}
}

// Reconnect waits a fixed interval from its creation time.
type Reconnect struct {
	clock           Clock
	startTime       time.Time
	reconnectTimout time.Duration
}

func NewReconnect(clock Clock, reconnectTimeout time.Duration) *Reconnect {
	return &Reconnect{
		clock:           clock,
		startTime:       clock.Now(),
		reconnectTimout: reconnectTimeout,
	}
}

func (self *Reconnect) After() <-chan time.Time {
	timeout := self.reconnectTimout - self.clock.Now().Sub(self.startTime)
	if timeout <= 0 {
		c := make(chan time.Time, 1)
		c <- self.clock.Now()
		return c
	}
	return self.clock.After(timeout)
}
