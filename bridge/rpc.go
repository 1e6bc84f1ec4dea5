package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
)

// FrameConnection is the part of the connection manager the call manager and event bus use.
type FrameConnection interface {
	State() TransportState
	SendFrame(frame []byte) error
	AddMessageCallback(callback MessageFunction) func()
	AddDisconnectCallback(callback DisconnectFunction) func()
}

// Caller issues correlated rpc calls
type Caller interface {
	Call(ctx context.Context, method string, args ...any) (json.RawMessage, error)
}

type CallSettings struct {
	// zero means no deadline beyond the caller's context
	CallTimeout time.Duration
	Clock       Clock
}

func DefaultCallSettings() *CallSettings {
	return &CallSettings{
		CallTimeout: 30 * time.Second,
		Clock:       RealClock(),
	}
}

type pendingCall struct {
	id       string
	method   string
	issuedAt time.Time
	future   *Future[json.RawMessage]
}

// CallManager correlates CALL frames with CALLRESULT/CALLERROR responses by id.
// Any number of calls may be in flight and they complete in any order.
type CallManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	connection FrameConnection
	settings   *CallSettings

	stateLock    sync.Mutex
	pendingCalls map[string]*pendingCall

	unsubs []func()
}

func NewCallManagerWithDefaults(ctx context.Context, connection FrameConnection) *CallManager {
	return NewCallManager(ctx, connection, DefaultCallSettings())
}

func NewCallManager(ctx context.Context, connection FrameConnection, settings *CallSettings) *CallManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	callManager := &CallManager{
		ctx:          cancelCtx,
		cancel:       cancel,
		connection:   connection,
		settings:     settings,
		pendingCalls: map[string]*pendingCall{},
	}
	callManager.unsubs = []func(){
		connection.AddMessageCallback(callManager.receive),
		connection.AddDisconnectCallback(callManager.rejectAll),
	}
	go func() {
		<-cancelCtx.Done()
		for _, unsub := range callManager.unsubs {
			unsub()
		}
		callManager.rejectAll()
	}()
	return callManager
}

// CallAsync sends `[2, id, method, ...args]` and returns a future for the result.
// Fails fast with `ErrNotConnected` unless the transport is connected.
func (self *CallManager) CallAsync(method string, args ...any) *Future[json.RawMessage] {
	if self.ctx.Err() != nil || self.connection.State() != TransportConnected {
		return RejectedFuture[json.RawMessage](ErrNotConnected)
	}

	id := NewId().String()
	frame, err := EncodeCall(id, method, args...)
	if err != nil {
		return RejectedFuture[json.RawMessage](err)
	}

	call := &pendingCall{
		id:       id,
		method:   method,
		issuedAt: self.settings.Clock.Now(),
		future:   NewFuture[json.RawMessage](),
	}
	// register before send, so that a disconnect racing the send always finds the call
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.pendingCalls[id] = call
	}()

	if err := self.connection.SendFrame(frame); err != nil {
		self.remove(id)
		call.future.Reject(err)
		return call.future
	}
	glog.V(LogLevelTrace).Infof("[rpc]%s -> %s\n", id, method)
	return call.future
}

// Call sends a call and waits for its result, the context, or the call timeout.
// A call abandoned by deadline is retired so a late response is dropped.
func (self *CallManager) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	future := self.CallAsync(method, args...)
	if future.IsDone() {
		return future.Result()
	}

	// nil never fires
	var timeout <-chan time.Time
	if 0 < self.settings.CallTimeout {
		timeout = self.settings.Clock.After(self.settings.CallTimeout)
	}
	select {
	case <-future.Done():
		return future.Result()
	case <-ctx.Done():
		self.retire(future, contextError(ctx))
		return future.Result()
	case <-timeout:
		self.retire(future, ErrTimeout)
		return future.Result()
	}
}

// retire removes the pending call for `future` and rejects it with `err`
func (self *CallManager) retire(future *Future[json.RawMessage], err error) {
	self.stateLock.Lock()
	for id, call := range self.pendingCalls {
		if call.future == future {
			delete(self.pendingCalls, id)
			glog.V(1).Infof("[rpc]%s %s retired after %s\n", id, call.method, self.settings.Clock.Now().Sub(call.issuedAt))
			break
		}
	}
	self.stateLock.Unlock()
	future.Reject(err)
}

func (self *CallManager) remove(id string) *pendingCall {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	call, ok := self.pendingCalls[id]
	if !ok {
		return nil
	}
	delete(self.pendingCalls, id)
	return call
}

// MessageFunction
func (self *CallManager) receive(message []byte) {
	frame, err := ParseFrame(message)
	if err != nil {
		// the first message on a fresh socket is empty
		return
	}
	switch frame.MessageType {
	case MessageTypeCallResult:
		callResult, err := frame.CallResult()
		if err != nil {
			glog.V(1).Infof("[rpc]bad frame = %s\n", err)
			return
		}
		if call := self.remove(callResult.Id); call != nil {
			glog.V(LogLevelTrace).Infof("[rpc]%s <- %s\n", call.id, call.method)
			call.future.Resolve(callResult.Result)
		} else {
			glog.V(1).Infof("[rpc]%s unknown result\n", callResult.Id)
		}
	case MessageTypeCallError:
		callError, err := frame.CallError()
		if err != nil {
			glog.V(1).Infof("[rpc]bad frame = %s\n", err)
			return
		}
		if call := self.remove(callError.Id); call != nil {
			glog.V(LogLevelTrace).Infof("[rpc]%s <- %s error = %s\n", call.id, call.method, callError.Code)
			call.future.Reject(&RemoteError{
				Code:        callError.Code,
				Description: callError.Description,
			})
		} else {
			glog.V(1).Infof("[rpc]%s unknown error\n", callError.Id)
		}
	}
}

// DisconnectFunction
// Every pending call is rejected with `ErrDisconnected`. Callers re-issue after reconnect.
func (self *CallManager) rejectAll() {
	self.stateLock.Lock()
	pendingCalls := self.pendingCalls
	self.pendingCalls = map[string]*pendingCall{}
	self.stateLock.Unlock()

	if 0 < len(pendingCalls) {
		glog.V(1).Infof("[rpc]reject %d pending calls\n", len(pendingCalls))
	}
	for _, call := range pendingCalls {
		call.future.Reject(ErrDisconnected)
	}
}

func (self *CallManager) PendingCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.pendingCalls)
}

func (self *CallManager) Close() {
	self.cancel()
}

// CallResult issues a call and decodes the result into `R`.
func CallResult[R any](ctx context.Context, caller Caller, method string, args ...any) (R, error) {
	var result R
	raw, err := caller.Call(ctx, method, args...)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, err
	}
	return result, nil
}
