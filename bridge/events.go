package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// change types carried in a json api event envelope
const (
	ChangeTypeCreate = "Create"
	ChangeTypeUpdate = "Update"
	ChangeTypeDelete = "Delete"
)

// Event is the envelope of an EVENT frame, `{eventType, uri, data}`, tagged with its topic.
type Event struct {
	Topic      string          `json:"-"`
	ChangeType string          `json:"eventType"`
	Uri        string          `json:"uri"`
	Data       json.RawMessage `json:"data"`

	// the connection generation the event was read on
	generation uint64
}

func (self *Event) Json(result any) error {
	if len(self.Data) == 0 {
		return nil
	}
	return json.Unmarshal(self.Data, result)
}

type EventFunction func(event *Event)

// comparable
// EventKey selects the events a listener receives.
// The zero key receives every event.
type EventKey struct {
	Topic string
	Uri   string
}

func AllEventsKey() EventKey {
	return EventKey{}
}

func TopicKey(topic string) EventKey {
	return EventKey{
		Topic: topic,
	}
}

func ResourceKey(topic string, uri string) EventKey {
	return EventKey{
		Topic: topic,
		Uri:   uri,
	}
}

// JsonApiKey is the resource key on the default json api topic
func JsonApiKey(uri string) EventKey {
	return ResourceKey(JsonApiEventTopic, uri)
}

// String matches the protocol's topic naming, `<topic>-<uri>`
func (self EventKey) String() string {
	switch {
	case self.Topic == "" && self.Uri == "":
		return "*"
	case self.Uri == "":
		return self.Topic
	default:
		return self.Topic + "-" + self.Uri
	}
}

func ParseEventKey(keyStr string) EventKey {
	if keyStr == "" || keyStr == "*" {
		return AllEventsKey()
	}
	// uris are absolute paths
	if i := strings.Index(keyStr, "-/"); 0 <= i {
		return ResourceKey(keyStr[:i], keyStr[i+1:])
	}
	return TopicKey(keyStr)
}

// IsResourceTopic is true for topics whose events are resource change notifications
// and are also published by uri.
func IsResourceTopic(topic string) bool {
	return strings.HasPrefix(topic, JsonApiEventTopic)
}

// EventBus republishes EVENT frames by catch-all, by topic and by topic+uri.
// Listeners run on the bus goroutine in frame arrival order, so a listener may
// make calls without stalling response correlation on the socket reader.
//
// There is no replay. Events for a key with no listener are dropped. A component
// that seeds state with a request must subscribe before the request, or race the
// two and keep whichever resolves first.
//
// A disconnect drops every event read on the old connection that was not yet
// delivered. Listeners that hold state across a disconnect check `IsCurrent`
// under their own lock.
type EventBus struct {
	ctx    context.Context
	cancel context.CancelFunc

	listenersLock sync.Mutex
	listeners     map[EventKey]*CallbackList[EventFunction]

	queueLock    sync.Mutex
	queue        []*Event
	queueMonitor *Monitor
	// incremented on disconnect
	generation uint64

	unsubs []func()
}

func NewEventBus(ctx context.Context, connection FrameConnection) *EventBus {
	eventBus := newEventBus(ctx)
	eventBus.unsubs = []func(){
		connection.AddMessageCallback(eventBus.receive),
		connection.AddDisconnectCallback(eventBus.onDisconnect),
	}
	go eventBus.run()
	return eventBus
}

func newEventBus(ctx context.Context) *EventBus {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &EventBus{
		ctx:          cancelCtx,
		cancel:       cancel,
		listeners:    map[EventKey]*CallbackList[EventFunction]{},
		queue:        []*Event{},
		queueMonitor: NewMonitor(),
	}
}

// Subscribe adds a listener for `key` and returns a function that removes it.
func (self *EventBus) Subscribe(key EventKey, callback EventFunction) func() {
	self.listenersLock.Lock()
	callbacks, ok := self.listeners[key]
	if !ok {
		callbacks = NewCallbackList[EventFunction]()
		self.listeners[key] = callbacks
	}
	self.listenersLock.Unlock()

	return callbacks.add(callback)
}

func (self *EventBus) ListenerCount(key EventKey) int {
	self.listenersLock.Lock()
	defer self.listenersLock.Unlock()
	if callbacks, ok := self.listeners[key]; ok {
		return callbacks.Len()
	}
	return 0
}

// MessageFunction
func (self *EventBus) receive(message []byte) {
	frame, err := ParseFrame(message)
	if err != nil || frame.MessageType != MessageTypeEvent {
		return
	}
	eventFrame, err := frame.EventFrame()
	if err != nil {
		glog.V(1).Infof("[e]bad frame = %s\n", err)
		return
	}
	self.enqueue(eventFrame.Event)
}

func (self *EventBus) enqueue(event *Event) {
	self.queueLock.Lock()
	event.generation = self.generation
	self.queue = append(self.queue, event)
	self.queueLock.Unlock()
	self.queueMonitor.NotifyAll()
}

// DisconnectFunction
func (self *EventBus) onDisconnect() {
	self.queueLock.Lock()
	self.generation += 1
	dropped := len(self.queue)
	self.queue = []*Event{}
	self.queueLock.Unlock()

	if 0 < dropped {
		glog.V(1).Infof("[e]disconnect dropped %d events\n", dropped)
	}
}

// IsCurrent is false for an event read on a connection that has since disconnected.
func (self *EventBus) IsCurrent(event *Event) bool {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	return event.generation == self.generation
}

func (self *EventBus) run() {
	defer func() {
		for _, unsub := range self.unsubs {
			unsub()
		}
	}()

	for {
		notify := self.queueMonitor.NotifyChannel()

		self.queueLock.Lock()
		events := self.queue
		self.queue = []*Event{}
		self.queueLock.Unlock()

		for _, event := range events {
			self.publish(event)
		}

		if 0 < len(events) {
			continue
		}
		select {
		case <-self.ctx.Done():
			return
		case <-notify:
		}
	}
}

// Publish delivers an event to its listeners on the calling goroutine,
// as an event of the current connection.
func (self *EventBus) Publish(event *Event) {
	self.queueLock.Lock()
	event.generation = self.generation
	self.queueLock.Unlock()
	self.publish(event)
}

func (self *EventBus) publish(event *Event) {
	glog.V(LogLevelTrace).Infof("[e]%s %s %s\n", event.Topic, event.ChangeType, event.Uri)
	for _, key := range self.keys(event) {
		self.listenersLock.Lock()
		callbacks, ok := self.listeners[key]
		self.listenersLock.Unlock()
		if !ok {
			continue
		}
		callbacks.each(func(callback EventFunction) {
			// a listener may have blocked across a disconnect
			if self.IsCurrent(event) {
				callback(event)
			}
		})
	}
}

func (self *EventBus) keys(event *Event) []EventKey {
	keys := []EventKey{
		AllEventsKey(),
		TopicKey(event.Topic),
	}
	if IsResourceTopic(event.Topic) && event.Uri != "" {
		keys = append(keys, ResourceKey(event.Topic, event.Uri))
	}
	return keys
}

func (self *EventBus) Close() {
	self.cancel()
}
