package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/sync/singleflight"
)

const LoginSessionUri = "/lol-login/v1/session"

// ConnectionNotifier reports socket connect and disconnect.
type ConnectionNotifier interface {
	AddConnectCallback(callback ConnectFunction) func()
	AddDisconnectCallback(callback DisconnectFunction) func()
}

// EventSubscriber is the subscription side of the event bus.
type EventSubscriber interface {
	Subscribe(key EventKey, callback EventFunction) func()
	IsCurrent(event *Event) bool
}

// comparable
type LoginCredentials struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type loginResult struct {
	LoginSession
	Error *struct {
		MessageId   string `json:"messageId"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
}

// LoginManager derives the login state from session events and an explicit probe,
// and exposes a single awaitable gate, `WaitForLogin`.
//
// Automatic login with configured credentials is attempted at most once per
// credential set. A rejected login is remembered and never retried, to avoid a
// lockout from repeated bad credentials.
type LoginManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	caller Caller
	events EventSubscriber

	stateLock sync.Mutex
	state     LoginState
	// resolved on login, rejected on disconnect, renewed after either reset
	wait *Future[struct{}]
	// incremented on disconnect so that stale probe results are dropped
	generation uint64

	credentials          *LoginCredentials
	attemptedCredentials map[LoginCredentials]bool
	failedCredentials    map[LoginCredentials]bool

	probeGroup singleflight.Group
	loginGroup singleflight.Group

	unsubs []func()
}

func NewLoginManager(
	ctx context.Context,
	caller Caller,
	events EventSubscriber,
	notifier ConnectionNotifier,
	credentials *LoginCredentials,
) *LoginManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	loginManager := &LoginManager{
		ctx:                  cancelCtx,
		cancel:               cancel,
		caller:               caller,
		events:               events,
		wait:                 NewFuture[struct{}](),
		credentials:          credentials,
		attemptedCredentials: map[LoginCredentials]bool{},
		failedCredentials:    map[LoginCredentials]bool{},
	}
	loginManager.unsubs = []func(){
		events.Subscribe(JsonApiKey(LoginSessionUri), loginManager.onSessionEvent),
		notifier.AddConnectCallback(loginManager.onConnect),
		notifier.AddDisconnectCallback(loginManager.onDisconnect),
	}
	go func() {
		<-cancelCtx.Done()
		for _, unsub := range loginManager.unsubs {
			unsub()
		}
	}()
	return loginManager
}

func (self *LoginManager) State() LoginState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *LoginManager) IsLoggedIn() bool {
	return self.State().Status == LoginLoggedIn
}

// SetCredentials replaces the credentials used for automatic login.
// Credentials that already failed stay failed.
func (self *LoginManager) SetCredentials(credentials *LoginCredentials) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.credentials = credentials
}

// WaitForLogin returns when the user is logged in, the context is done,
// or the connection is lost (`ErrDisconnected`).
func (self *LoginManager) WaitForLogin(ctx context.Context) error {
	self.stateLock.Lock()
	if self.state.Status == LoginLoggedIn {
		self.stateLock.Unlock()
		return nil
	}
	self.applyWithLock(LoginEvent{Kind: LoginEventWaitStarted})
	wait := self.wait
	observed := self.state.HasObservedServerState
	self.stateLock.Unlock()

	if !observed {
		if err := self.probe(); err != nil {
			glog.V(1).Infof("[login]probe error = %s\n", err)
		}
	}
	if err := self.autoLogin(); err != nil {
		glog.Infof("[login]auto login error = %s\n", err)
	}

	_, err := wait.Wait(ctx)
	return err
}

// probe reads the session once. Concurrent probes share one call.
func (self *LoginManager) probe() error {
	_, err, _ := self.probeGroup.Do("session", func() (any, error) {
		self.stateLock.Lock()
		generation := self.generation
		self.stateLock.Unlock()

		session, err := CallResult[*LoginSession](self.ctx, self.caller, "GET "+LoginSessionUri)
		if err != nil {
			return nil, err
		}

		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if generation == self.generation {
			self.applyWithLock(LoginEvent{
				Kind:    LoginEventSessionUpdated,
				Session: session,
			})
		}
		return session, nil
	})
	return err
}

// autoLogin submits the configured credentials if the observed session is not connected
func (self *LoginManager) autoLogin() error {
	self.stateLock.Lock()
	credentials := self.credentials
	attempt := credentials != nil &&
		self.state.HasObservedServerState &&
		self.state.Status != LoginLoggedIn &&
		!self.attemptedCredentials[*credentials] &&
		!self.failedCredentials[*credentials]
	if attempt {
		self.attemptedCredentials[*credentials] = true
	}
	self.stateLock.Unlock()

	if !attempt {
		return nil
	}

	_, err, _ := self.loginGroup.Do("login", func() (any, error) {
		glog.V(1).Infof("[login]auto login %s\n", credentials.Username)
		result, err := CallResult[*loginResult](self.ctx, self.caller, "POST "+LoginSessionUri, credentials)

		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		switch {
		case err != nil && IsTransient(err):
			// not a verdict on the credentials
			delete(self.attemptedCredentials, *credentials)
			return nil, err
		case err != nil:
			self.failedCredentials[*credentials] = true
			return nil, err
		case result != nil && result.Error != nil:
			self.failedCredentials[*credentials] = true
			return nil, &RemoteError{
				Code:        result.Error.MessageId,
				Description: result.Error.Description,
			}
		}
		if result != nil && result.Connected {
			self.applyWithLock(LoginEvent{
				Kind:    LoginEventSessionUpdated,
				Session: &result.LoginSession,
			})
		}
		return result, nil
	})
	return err
}

// CredentialsFailed is true if automatic login with `credentials` was rejected.
func (self *LoginManager) CredentialsFailed(credentials LoginCredentials) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.failedCredentials[credentials]
}

// EventFunction
func (self *LoginManager) onSessionEvent(event *Event) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	// the bus disconnect callback runs before `onDisconnect`,
	// so an event that is still current here is reset by the disconnect
	if !self.events.IsCurrent(event) {
		glog.V(1).Infof("[login]drop session event from a closed connection\n")
		return
	}

	if event.ChangeType == ChangeTypeDelete {
		self.applyWithLock(LoginEvent{Kind: LoginEventSessionDeleted})
		return
	}
	session := &LoginSession{}
	if err := json.Unmarshal(event.Data, session); err != nil {
		glog.V(1).Infof("[login]bad session = %s\n", err)
		return
	}
	self.applyWithLock(LoginEvent{
		Kind:    LoginEventSessionUpdated,
		Session: session,
	})
}

// ConnectFunction
// A wait that started without a connection probed nothing. The session may
// already be connected, in which case no session event will follow.
func (self *LoginManager) onConnect() {
	self.stateLock.Lock()
	reprobe := self.state.Status == LoginWaitingForLogin && !self.state.HasObservedServerState
	self.stateLock.Unlock()

	if !reprobe {
		return
	}
	// connect callbacks must not block
	go HandleError(func() {
		if err := self.probe(); err != nil {
			glog.V(1).Infof("[login]probe on connect error = %s\n", err)
			return
		}
		if err := self.autoLogin(); err != nil {
			glog.Infof("[login]auto login error = %s\n", err)
		}
	})
}

// DisconnectFunction
func (self *LoginManager) onDisconnect() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.generation += 1
	self.applyWithLock(LoginEvent{Kind: LoginEventDisconnected})
}

func (self *LoginManager) applyWithLock(event LoginEvent) {
	previousStatus := self.state.Status
	state, effects := NextLoginState(self.state, event)
	self.state = state
	for _, effect := range effects {
		switch effect {
		case LoginEffectResolveWait:
			self.wait.Resolve(struct{}{})
		case LoginEffectRejectWait:
			self.wait.Reject(ErrDisconnected)
		case LoginEffectRenewWait:
			self.wait = NewFuture[struct{}]()
		}
	}
	if previousStatus != state.Status {
		glog.V(1).Infof("[login]%s -> %s\n", previousStatus, state.Status)
	}
}

func (self *LoginManager) Close() {
	self.cancel()
}
