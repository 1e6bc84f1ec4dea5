package bridge

import (
	"context"
	"encoding/json"
	"net/url"
)

const SchemaPath = "/help"

type BridgeSettings struct {
	ConnectionSettings *ConnectionSettings
	CallSettings       *CallSettings
	DataCacheSettings  *DataCacheSettings
	// capture the api schema next to each new data snapshot
	CaptureSchema bool
}

func DefaultBridgeSettings() *BridgeSettings {
	return &BridgeSettings{
		ConnectionSettings: DefaultConnectionSettings(),
		CallSettings:       DefaultCallSettings(),
		DataCacheSettings:  DefaultDataCacheSettings(),
		CaptureSchema:      true,
	}
}

// Bridge composes the connection, rpc, events, login and data components
// around one client instance. It is the `DescriptorListener` for discovery.
type Bridge struct {
	ctx    context.Context
	cancel context.CancelFunc

	Connection *ConnectionManager
	Calls      *CallManager
	Events     *EventBus
	Login      *LoginManager
	Data       *DataCache
}

func NewBridgeWithDefaults(ctx context.Context, store SnapshotStore, credentials *LoginCredentials) *Bridge {
	return NewBridge(ctx, DefaultBridgeSettings(), store, credentials)
}

func NewBridge(
	ctx context.Context,
	settings *BridgeSettings,
	store SnapshotStore,
	credentials *LoginCredentials,
) *Bridge {
	cancelCtx, cancel := context.WithCancel(ctx)

	connection := NewConnectionManager(cancelCtx, settings.ConnectionSettings)
	// disconnect callbacks run in registration order.
	// Pending calls are rejected and queued events dropped before the login state resets.
	calls := NewCallManager(cancelCtx, connection, settings.CallSettings)
	events := NewEventBus(cancelCtx, connection)
	login := NewLoginManager(cancelCtx, calls, events, connection, credentials)

	dataCacheSettings := *settings.DataCacheSettings
	if settings.CaptureSchema && dataCacheSettings.SchemaSource == nil {
		dataCacheSettings.SchemaSource = func(ctx context.Context) ([]byte, error) {
			response, err := connection.Request(ctx, "GET", SchemaPath, &RequestOptions{
				Query: url.Values{"format": []string{"Full"}},
			})
			if err != nil {
				return nil, err
			}
			return response.Body, nil
		}
	}
	data := NewDataCache(cancelCtx, calls, connection, store, &dataCacheSettings)

	return &Bridge{
		ctx:        cancelCtx,
		cancel:     cancel,
		Connection: connection,
		Calls:      calls,
		Events:     events,
		Login:      login,
		Data:       data,
	}
}

func (self *Bridge) Ctx() context.Context {
	return self.ctx
}

// DescriptorListener

func (self *Bridge) Connect(descriptor *ConnectionDescriptor) {
	self.Connection.Connect(descriptor)
}

func (self *Bridge) Disconnect() {
	self.Connection.Disconnect()
}

// Caller

func (self *Bridge) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	return self.Calls.Call(ctx, method, args...)
}

// Requester

func (self *Bridge) Request(ctx context.Context, method string, path string, options *RequestOptions) (*Response, error) {
	return self.Connection.Request(ctx, method, path, options)
}

func (self *Bridge) Subscribe(key EventKey, callback EventFunction) func() {
	return self.Events.Subscribe(key, callback)
}

func (self *Bridge) WaitForLogin(ctx context.Context) error {
	return self.Login.WaitForLogin(ctx)
}

func (self *Bridge) CurrentData(ctx context.Context) (*DataSnapshot, error) {
	return self.Data.Data(ctx)
}

func (self *Bridge) Close() {
	self.cancel()
	self.Data.Close()
	self.Login.Close()
	self.Events.Close()
	self.Calls.Close()
	self.Connection.Close()
}
