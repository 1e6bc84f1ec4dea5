package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestEventKeyString(t *testing.T) {
	assert.Equal(t, AllEventsKey().String(), "*")
	assert.Equal(t, TopicKey(JsonApiEventTopic).String(), "OnJsonApiEvent")
	assert.Equal(t, JsonApiKey("/lol-perks/v1/pages").String(), "OnJsonApiEvent-/lol-perks/v1/pages")

	for _, key := range []EventKey{
		AllEventsKey(),
		TopicKey("OnJsonApiEvent"),
		JsonApiKey("/lol-perks/v1/pages"),
		ResourceKey("OnJsonApiEvent_lol-perks_v1_pages", "/lol-perks/v1/pages/1"),
		// topics may contain dashes
		ResourceKey("OnLcds-Event", "/a-b"),
	} {
		assert.Equal(t, ParseEventKey(key.String()), key)
	}
}

func TestEventBusChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := newEventBus(ctx)

	type received struct {
		key   string
		event *Event
	}
	var mutex sync.Mutex
	receivedEvents := []received{}
	listen := func(key EventKey) func() {
		return eventBus.Subscribe(key, func(event *Event) {
			mutex.Lock()
			defer mutex.Unlock()
			receivedEvents = append(receivedEvents, received{key.String(), event})
		})
	}
	countFor := func(key string) int {
		mutex.Lock()
		defer mutex.Unlock()
		count := 0
		for _, r := range receivedEvents {
			if r.key == key {
				count += 1
			}
		}
		return count
	}

	listen(AllEventsKey())
	listen(TopicKey(JsonApiEventTopic))
	listen(JsonApiKey("/lol-perks/v1/pages"))
	removeOther := listen(JsonApiKey("/lol-login/v1/session"))
	assert.Equal(t, eventBus.ListenerCount(JsonApiKey("/lol-perks/v1/pages")), 1)

	eventBus.Publish(&Event{
		Topic:      JsonApiEventTopic,
		ChangeType: ChangeTypeUpdate,
		Uri:        "/lol-perks/v1/pages",
	})
	assert.Equal(t, countFor("*"), 1)
	assert.Equal(t, countFor("OnJsonApiEvent"), 1)
	assert.Equal(t, countFor("OnJsonApiEvent-/lol-perks/v1/pages"), 1)
	assert.Equal(t, countFor("OnJsonApiEvent-/lol-login/v1/session"), 0)

	removeOther()
	assert.Equal(t, eventBus.ListenerCount(JsonApiKey("/lol-login/v1/session")), 0)
	eventBus.Publish(&Event{
		Topic:      JsonApiEventTopic,
		ChangeType: ChangeTypeDelete,
		Uri:        "/lol-login/v1/session",
	})
	assert.Equal(t, countFor("*"), 2)
	assert.Equal(t, countFor("OnJsonApiEvent-/lol-login/v1/session"), 0)

	// non resource topics are not published by uri
	eventBus.Publish(&Event{
		Topic: "OnServiceProxyAsyncEvent",
		Uri:   "/lol-perks/v1/pages",
	})
	assert.Equal(t, countFor("*"), 3)
	assert.Equal(t, countFor("OnJsonApiEvent"), 2)
	assert.Equal(t, countFor("OnJsonApiEvent-/lol-perks/v1/pages"), 1)
}

func TestEventBusFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connection := newTestConnection()
	connection.connect()
	eventBus := NewEventBus(ctx, connection)
	defer eventBus.Close()

	uris := make(chan string, 16)
	eventBus.Subscribe(TopicKey(JsonApiEventTopic), func(event *Event) {
		uris <- event.Uri
	})

	connection.deliver("")
	connection.deliver(`[3,"a",null]`)
	for _, uri := range []string{"/a", "/b", "/c"} {
		connection.deliver(`[8,"OnJsonApiEvent",{"eventType":"Update","uri":"` + uri + `","data":null}]`)
	}

	// arrival order
	for _, uri := range []string{"/a", "/b", "/c"} {
		select {
		case received := <-uris:
			assert.Equal(t, received, uri)
		case <-time.After(5 * time.Second):
			t.Fatal("No event.")
		}
	}
}

func TestEventListenerMayCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connection := newTestConnection()
	connection.connect()
	callManager := NewCallManagerWithDefaults(ctx, connection)
	defer callManager.Close()
	eventBus := NewEventBus(ctx, connection)
	defer eventBus.Close()

	results := make(chan string)
	eventBus.Subscribe(JsonApiKey("/lol-champ-select/v1/session"), func(event *Event) {
		build, err := CallResult[*Build](ctx, callManager, BuildsMethod)
		assert.Equal(t, err, nil)
		results <- build.Version
	})

	connection.deliver(`[8,"OnJsonApiEvent",{"eventType":"Update","uri":"/lol-champ-select/v1/session","data":{}}]`)
	id, _ := connection.nextFrame(t).stringArg(0)
	// the result is read by the same message callbacks that delivered the event
	connection.deliver(`[3,"` + id + `",{"version":"13.1.1"}]`)

	select {
	case version := <-results:
		assert.Equal(t, version, "13.1.1")
	case <-time.After(5 * time.Second):
		t.Fatal("Listener call did not complete.")
	}
}
