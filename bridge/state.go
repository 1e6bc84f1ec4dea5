package bridge

import (
	"fmt"

	"golang.org/x/exp/slices"
)

type TransportState int

const (
	TransportDisconnected TransportState = iota
	TransportConnectingSocket
	TransportConnected
)

func (self TransportState) String() string {
	switch self {
	case TransportDisconnected:
		return "Disconnected"
	case TransportConnectingSocket:
		return "ConnectingSocket"
	case TransportConnected:
		return "Connected"
	default:
		return fmt.Sprintf("TransportState(%d)", int(self))
	}
}

type TransportEvent int

const (
	TransportEventDescriptorAvailable TransportEvent = iota
	TransportEventDescriptorLost
	TransportEventSocketOpen
	TransportEventSocketError
	TransportEventSocketClose
)

func (self TransportEvent) String() string {
	switch self {
	case TransportEventDescriptorAvailable:
		return "DescriptorAvailable"
	case TransportEventDescriptorLost:
		return "DescriptorLost"
	case TransportEventSocketOpen:
		return "SocketOpen"
	case TransportEventSocketError:
		return "SocketError"
	case TransportEventSocketClose:
		return "SocketClose"
	default:
		return fmt.Sprintf("TransportEvent(%d)", int(self))
	}
}

type TransportEffect int

const (
	TransportEffectOpenSocket TransportEffect = iota
	TransportEffectCloseSocket
	TransportEffectSubscribe
	TransportEffectEmitConnected
	TransportEffectEmitDisconnected
	TransportEffectScheduleRetry
)

type TransportEffects []TransportEffect

func (self TransportEffects) Has(effect TransportEffect) bool {
	return slices.Contains(self, effect)
}

// NextTransportState is the transport state machine. Effects are listed in the
// order they must be applied.
func NextTransportState(state TransportState, event TransportEvent) (TransportState, TransportEffects) {
	switch event {
	case TransportEventDescriptorAvailable:
		switch state {
		case TransportConnected:
			return TransportConnectingSocket, TransportEffects{
				TransportEffectCloseSocket,
				TransportEffectEmitDisconnected,
				TransportEffectOpenSocket,
			}
		case TransportConnectingSocket:
			return TransportConnectingSocket, TransportEffects{
				TransportEffectCloseSocket,
				TransportEffectOpenSocket,
			}
		default:
			return TransportConnectingSocket, TransportEffects{
				TransportEffectOpenSocket,
			}
		}
	case TransportEventDescriptorLost:
		switch state {
		case TransportDisconnected:
			return TransportDisconnected, TransportEffects{
				TransportEffectEmitDisconnected,
			}
		default:
			return TransportDisconnected, TransportEffects{
				TransportEffectCloseSocket,
				TransportEffectEmitDisconnected,
			}
		}
	case TransportEventSocketOpen:
		switch state {
		case TransportConnectingSocket:
			return TransportConnected, TransportEffects{
				TransportEffectSubscribe,
				TransportEffectEmitConnected,
			}
		default:
			// stale socket
			return state, TransportEffects{
				TransportEffectCloseSocket,
			}
		}
	case TransportEventSocketError:
		switch state {
		case TransportConnected:
			return TransportConnectingSocket, TransportEffects{
				TransportEffectEmitDisconnected,
				TransportEffectScheduleRetry,
			}
		case TransportConnectingSocket:
			return TransportConnectingSocket, TransportEffects{
				TransportEffectScheduleRetry,
			}
		default:
			return state, TransportEffects{}
		}
	case TransportEventSocketClose:
		switch state {
		case TransportDisconnected:
			return state, TransportEffects{}
		default:
			return TransportConnectingSocket, TransportEffects{
				TransportEffectEmitDisconnected,
				TransportEffectScheduleRetry,
			}
		}
	default:
		return state, TransportEffects{}
	}
}

type LoginStatus int

const (
	LoginUnknown LoginStatus = iota
	LoginLoggedOut
	LoginWaitingForLogin
	LoginLoggedIn
)

func (self LoginStatus) String() string {
	switch self {
	case LoginUnknown:
		return "Unknown"
	case LoginLoggedOut:
		return "LoggedOut"
	case LoginWaitingForLogin:
		return "WaitingForLogin"
	case LoginLoggedIn:
		return "LoggedIn"
	default:
		return fmt.Sprintf("LoginStatus(%d)", int(self))
	}
}

type LoginState struct {
	Status                 LoginStatus
	HasObservedServerState bool
	// the server's own session state string, e.g. "SUCCEEDED", for display
	SessionState string
}

// LoginSession is the subset of `/lol-login/v1/session` the bridge reads.
type LoginSession struct {
	State       string `json:"state"`
	Connected   bool   `json:"connected"`
	Username    string `json:"username,omitempty"`
	IsNewPlayer bool   `json:"isNewPlayer,omitempty"`
}

type LoginEventKind int

const (
	LoginEventWaitStarted LoginEventKind = iota
	LoginEventSessionUpdated
	LoginEventSessionDeleted
	LoginEventDisconnected
)

type LoginEvent struct {
	Kind    LoginEventKind
	Session *LoginSession
}

type LoginEffect int

const (
	LoginEffectResolveWait LoginEffect = iota
	LoginEffectRejectWait
	LoginEffectRenewWait
)

type LoginEffects []LoginEffect

func (self LoginEffects) Has(effect LoginEffect) bool {
	return slices.Contains(self, effect)
}

// NextLoginState is the login state machine.
// LoggedIn is terminal until a session delete or a disconnect.
func NextLoginState(state LoginState, event LoginEvent) (LoginState, LoginEffects) {
	switch event.Kind {
	case LoginEventWaitStarted:
		if state.Status == LoginLoggedIn {
			return state, LoginEffects{}
		}
		state.Status = LoginWaitingForLogin
		return state, LoginEffects{}

	case LoginEventSessionUpdated:
		state.HasObservedServerState = true
		if event.Session == nil {
			return state, LoginEffects{}
		}
		state.SessionState = event.Session.State
		switch {
		case state.Status == LoginLoggedIn:
			return state, LoginEffects{}
		case event.Session.Connected:
			state.Status = LoginLoggedIn
			return state, LoginEffects{LoginEffectResolveWait}
		case state.Status == LoginWaitingForLogin:
			return state, LoginEffects{}
		default:
			state.Status = LoginLoggedOut
			return state, LoginEffects{}
		}

	case LoginEventSessionDeleted:
		// the session going away is a reset, not a logout while connected
		wasLoggedIn := state.Status == LoginLoggedIn
		state = LoginState{}
		if wasLoggedIn {
			return state, LoginEffects{LoginEffectRenewWait}
		}
		return state, LoginEffects{}

	case LoginEventDisconnected:
		return LoginState{}, LoginEffects{
			LoginEffectRejectWait,
			LoginEffectRenewWait,
		}

	default:
		return state, LoginEffects{}
	}
}
