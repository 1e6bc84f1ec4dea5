package bridge

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

// the topic that carries every json api resource change
const JsonApiEventTopic = "OnJsonApiEvent"

// the basic auth user for the local api. The password comes from the lockfile.
const DefaultUsername = "riot"

type ConnectFunction func()
type DisconnectFunction func()
type MessageFunction func(message []byte)
type StateFunction func(state TransportState)

type ConnectionSettings struct {
	Host               string
	Username           string
	ReconnectTimeout   time.Duration
	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	SendBufferSize     int
	// topics subscribed on every socket open
	Topics []string

	HttpTimeout        time.Duration
	HttpConnectTimeout time.Duration
	HttpTlsTimeout     time.Duration

	Clock Clock
}

func DefaultConnectionSettings() *ConnectionSettings {
	return &ConnectionSettings{
		Host:     "127.0.0.1",
		Username: DefaultUsername,
		// the service is local and outages are short, so there is no backoff
		ReconnectTimeout:   1 * time.Second,
		WsHandshakeTimeout: 5 * time.Second,
		WriteTimeout:       5 * time.Second,
		SendBufferSize:     32,
		Topics:             []string{JsonApiEventTopic},
		HttpTimeout:        60 * time.Second,
		HttpConnectTimeout: 5 * time.Second,
		HttpTlsTimeout:     5 * time.Second,
		Clock:              RealClock(),
	}
}

// ConnectionManager owns the transport state, the websocket and the http side channel.
// Descriptor changes come from the discovery collaborator (`Connect`/`Disconnect`).
// Socket open/close drive the rest of the state machine (`NextTransportState`).
//
// Connect and disconnect callbacks run while transitions are serialized.
// They must not call `Connect` or `Disconnect`.
type ConnectionManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings   *ConnectionSettings
	httpClient *http.Client

	// serializes a transition together with its emitted callbacks
	transitionMutex sync.Mutex

	stateLock     sync.Mutex
	state         TransportState
	descriptor    *ConnectionDescriptor
	sessionId     Id
	sessionCancel context.CancelFunc
	// non-nil exactly when the state is connected
	send    chan []byte
	sendCtx context.Context
	topics  []string

	connectCallbacks    *CallbackList[ConnectFunction]
	disconnectCallbacks *CallbackList[DisconnectFunction]
	messageCallbacks    *CallbackList[MessageFunction]
	stateCallbacks      *CallbackList[StateFunction]
}

func NewConnectionManagerWithDefaults(ctx context.Context) *ConnectionManager {
	return NewConnectionManager(ctx, DefaultConnectionSettings())
}

func NewConnectionManager(ctx context.Context, settings *ConnectionSettings) *ConnectionManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	connectionManager := &ConnectionManager{
		ctx:                 cancelCtx,
		cancel:              cancel,
		settings:            settings,
		httpClient:          newHttpClient(settings),
		state:               TransportDisconnected,
		topics:              slices.Clone(settings.Topics),
		connectCallbacks:    NewCallbackList[ConnectFunction](),
		disconnectCallbacks: NewCallbackList[DisconnectFunction](),
		messageCallbacks:    NewCallbackList[MessageFunction](),
		stateCallbacks:      NewCallbackList[StateFunction](),
	}
	go func() {
		<-cancelCtx.Done()
		if connectionManager.State() != TransportDisconnected {
			connectionManager.Disconnect()
		}
	}()
	return connectionManager
}

func (self *ConnectionManager) AddConnectCallback(callback ConnectFunction) func() {
	return self.connectCallbacks.add(callback)
}

func (self *ConnectionManager) AddDisconnectCallback(callback DisconnectFunction) func() {
	return self.disconnectCallbacks.add(callback)
}

func (self *ConnectionManager) AddMessageCallback(callback MessageFunction) func() {
	return self.messageCallbacks.add(callback)
}

func (self *ConnectionManager) AddStateCallback(callback StateFunction) func() {
	return self.stateCallbacks.add(callback)
}

func (self *ConnectionManager) State() TransportState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *ConnectionManager) Descriptor() *ConnectionDescriptor {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.descriptor
}

// Connect is called when a descriptor becomes available.
// A different descriptor replaces the current session.
func (self *ConnectionManager) Connect(descriptor *ConnectionDescriptor) {
	if self.ctx.Err() != nil {
		return
	}

	self.transitionMutex.Lock()
	defer self.transitionMutex.Unlock()

	self.stateLock.Lock()
	if self.state != TransportDisconnected && descriptor.Equal(self.descriptor) {
		self.stateLock.Unlock()
		return
	}
	previousState := self.state
	state, effects := NextTransportState(previousState, TransportEventDescriptorAvailable)
	if effects.Has(TransportEffectCloseSocket) {
		self.closeSessionWithLock()
	}
	sessionId := NewId()
	sessionCtx, sessionCancel := context.WithCancel(self.ctx)
	self.state = state
	self.descriptor = descriptor
	self.sessionId = sessionId
	self.sessionCancel = sessionCancel
	self.stateLock.Unlock()

	glog.V(1).Infof("[c]%s %s -> %s\n", TransportEventDescriptorAvailable, previousState, state)
	self.emit(previousState, state, effects)

	if effects.Has(TransportEffectOpenSocket) {
		go HandleError(func() {
			self.run(sessionCtx, sessionId, descriptor)
		})
	}
}

// Disconnect is called when the descriptor is withdrawn.
// In-flight work is rejected by the disconnect callbacks before this returns.
func (self *ConnectionManager) Disconnect() {
	self.transitionMutex.Lock()
	defer self.transitionMutex.Unlock()

	self.stateLock.Lock()
	previousState := self.state
	state, effects := NextTransportState(previousState, TransportEventDescriptorLost)
	if effects.Has(TransportEffectCloseSocket) {
		self.closeSessionWithLock()
	}
	self.state = state
	self.descriptor = nil
	self.sessionId = Id{}
	self.stateLock.Unlock()

	glog.V(1).Infof("[c]%s %s -> %s\n", TransportEventDescriptorLost, previousState, state)
	self.emit(previousState, state, effects)
}

func (self *ConnectionManager) closeSessionWithLock() {
	if self.sessionCancel != nil {
		self.sessionCancel()
		self.sessionCancel = nil
	}
	self.send = nil
	self.sendCtx = nil
}

func (self *ConnectionManager) emit(previousState TransportState, state TransportState, effects TransportEffects) {
	if previousState != state {
		self.stateCallbacks.each(func(callback StateFunction) {
			callback(state)
		})
	}
	for _, effect := range effects {
		switch effect {
		case TransportEffectEmitDisconnected:
			self.disconnectCallbacks.each(func(callback DisconnectFunction) {
				callback()
			})
		case TransportEffectEmitConnected:
			self.connectCallbacks.each(func(callback ConnectFunction) {
				callback()
			})
		}
	}
}

// socketTransition applies a socket event if `sessionId` is still the current session
func (self *ConnectionManager) socketTransition(sessionId Id, event TransportEvent) TransportEffects {
	self.transitionMutex.Lock()
	defer self.transitionMutex.Unlock()

	self.stateLock.Lock()
	if self.sessionId != sessionId {
		self.stateLock.Unlock()
		return TransportEffects{}
	}
	previousState := self.state
	state, effects := NextTransportState(previousState, event)
	self.state = state
	self.send = nil
	self.sendCtx = nil
	self.stateLock.Unlock()

	glog.V(1).Infof("[c]%s %s -> %s\n", event, previousState, state)
	self.emit(previousState, state, effects)
	return effects
}

func (self *ConnectionManager) run(ctx context.Context, sessionId Id, descriptor *ConnectionDescriptor) {
	for {
		var ws *websocket.Conn
		var err error
		if glog.V(2) {
			ws, err = TraceWithReturnError(fmt.Sprintf("[c]connect %s", descriptor), func() (*websocket.Conn, error) {
				return self.dial(ctx, descriptor)
			})
		} else {
			ws, err = self.dial(ctx, descriptor)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// the service is often not accepting connections yet
			glog.Infof("[c]%s\n", &TransportError{Op: "dial", Err: err})
			effects := self.socketTransition(sessionId, TransportEventSocketError)
			if !effects.Has(TransportEffectScheduleRetry) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-self.settings.Clock.After(self.settings.ReconnectTimeout):
				continue
			}
		}

		if !self.handle(ctx, sessionId, ws) {
			return
		}

		reconnect := NewReconnect(self.settings.Clock, self.settings.ReconnectTimeout)
		select {
		case <-ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *ConnectionManager) dial(ctx context.Context, descriptor *ConnectionDescriptor) (*websocket.Conn, error) {
	scheme := "ws"
	if descriptor.Scheme == "https" {
		scheme = "wss"
	}
	wsUrl := fmt.Sprintf("%s://%s:%d/", scheme, self.settings.Host, descriptor.Port)

	header := http.Header{}
	header.Set("Authorization", basicAuthorization(self.settings.Username, descriptor.Password))

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
		// the local api uses a self-signed certificate
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
	}
	ws, _, err := dialer.DialContext(ctx, wsUrl, header)
	return ws, err
}

// handle runs one open socket until it closes.
// Returns false if the session was replaced before the socket opened.
func (self *ConnectionManager) handle(ctx context.Context, sessionId Id, ws *websocket.Conn) bool {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()

	send := make(chan []byte, self.settings.SendBufferSize)

	go HandleError(func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case message := <-send:
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
					// note that for websocket a deadline timeout cannot be recovered
					glog.Infof("[cs]-> %s\n", &TransportError{Op: "write", Err: err})
					return
				}
				glog.V(2).Infof("[cs]-> %s\n", message)
			}
		}
	}, handleCancel)

	opened := func() bool {
		self.transitionMutex.Lock()
		defer self.transitionMutex.Unlock()

		self.stateLock.Lock()
		if self.sessionId != sessionId {
			self.stateLock.Unlock()
			return false
		}
		previousState := self.state
		state, effects := NextTransportState(previousState, TransportEventSocketOpen)
		if effects.Has(TransportEffectCloseSocket) {
			self.stateLock.Unlock()
			return false
		}
		self.state = state
		self.send = send
		self.sendCtx = handleCtx
		topics := slices.Clone(self.topics)
		self.stateLock.Unlock()

		glog.V(1).Infof("[c]%s %s -> %s\n", TransportEventSocketOpen, previousState, state)
		if effects.Has(TransportEffectSubscribe) {
			for _, topic := range topics {
				frame, err := EncodeSubscribe(topic)
				if err != nil {
					continue
				}
				select {
				case <-handleCtx.Done():
				case send <- frame:
				}
			}
		}
		self.emit(previousState, state, effects)
		return true
	}()
	if !opened {
		return false
	}

	go HandleError(func() {
		defer handleCancel()

		for {
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				if handleCtx.Err() == nil {
					glog.Infof("[cr]<- %s\n", &TransportError{Op: "read", Err: err})
				}
				return
			}
			switch messageType {
			case websocket.TextMessage, websocket.BinaryMessage:
				glog.V(2).Infof("[cr]<- %s\n", message)
				self.receive(message)
			}
		}
	}, handleCancel)

	<-handleCtx.Done()
	// unblock the reader
	ws.Close()

	effects := self.socketTransition(sessionId, TransportEventSocketClose)
	return effects.Has(TransportEffectScheduleRetry)
}

// receive hands a message to the message callbacks in arrival order
func (self *ConnectionManager) receive(message []byte) {
	self.messageCallbacks.each(func(callback MessageFunction) {
		callback(message)
	})
}

// SendFrame queues a serialized frame on the open socket.
func (self *ConnectionManager) SendFrame(frame []byte) error {
	self.stateLock.Lock()
	send := self.send
	sendCtx := self.sendCtx
	self.stateLock.Unlock()

	if send == nil {
		return ErrNotConnected
	}
	select {
	case send <- frame:
		return nil
	case <-sendCtx.Done():
		return ErrNotConnected
	case <-self.settings.Clock.After(self.settings.WriteTimeout):
		return fmt.Errorf("Send buffer full: %w", ErrTimeout)
	}
}

// Subscribe adds a topic to the set subscribed on every socket open,
// and subscribes now if connected.
func (self *ConnectionManager) Subscribe(topic string) error {
	self.stateLock.Lock()
	if slices.Contains(self.topics, topic) {
		self.stateLock.Unlock()
		return nil
	}
	self.topics = append(slices.Clone(self.topics), topic)
	connected := self.send != nil
	self.stateLock.Unlock()

	if !connected {
		return nil
	}
	frame, err := EncodeSubscribe(topic)
	if err != nil {
		return err
	}
	return self.SendFrame(frame)
}

func (self *ConnectionManager) Unsubscribe(topic string) error {
	self.stateLock.Lock()
	i := slices.Index(self.topics, topic)
	if i < 0 {
		self.stateLock.Unlock()
		return nil
	}
	self.topics = slices.Delete(slices.Clone(self.topics), i, i+1)
	connected := self.send != nil
	self.stateLock.Unlock()

	if !connected {
		return nil
	}
	frame, err := EncodeUnsubscribe(topic)
	if err != nil {
		return err
	}
	return self.SendFrame(frame)
}

func (self *ConnectionManager) Topics() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.topics)
}

func (self *ConnectionManager) Close() {
	self.cancel()
	if self.State() != TransportDisconnected {
		self.Disconnect()
	}
}

func basicAuthorization(username string, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

var errNoDescriptor = errors.Join(ErrNotConnected, errors.New("No lockfile."))
