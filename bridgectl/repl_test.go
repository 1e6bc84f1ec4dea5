package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/lcubridge/lcubridge/bridge"
)

func newTestRepl(t *testing.T, input string) (*Repl, *bytes.Buffer) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	settings := bridge.DefaultBridgeSettings()
	settings.CaptureSchema = false
	b := bridge.NewBridge(ctx, settings, bridge.NewDirSnapshotStore(t.TempDir()), nil)
	t.Cleanup(b.Close)

	out := &bytes.Buffer{}
	// no terminal
	repl := NewRepl(ctx, b, strings.NewReader(input), out, -1)
	return repl, out
}

func TestReplState(t *testing.T) {
	repl, out := newTestRepl(t, "")
	defer repl.Close()

	err := repl.Execute("state")
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.Contains(out.String(), "transport: Disconnected"), true)
	assert.Equal(t, strings.Contains(out.String(), "login: Unknown"), true)
	assert.Equal(t, strings.Contains(out.String(), "pending calls: 0"), true)
}

func TestReplCallNotConnected(t *testing.T) {
	repl, out := newTestRepl(t, "")
	defer repl.Close()

	err := repl.Execute(`call "GET /lol-summoner/v1/current-summoner"`)
	assert.Equal(t, err, nil)
	assert.Equal(t, out.String(), strings.Join([]string{
		"===== WAMP Error: GET /lol-summoner/v1/current-summoner",
		"NotConnected: Not connected.",
		"",
		"",
	}, "\n"))
}

func TestReplHelpAndInvalid(t *testing.T) {
	repl, out := newTestRepl(t, "")
	defer repl.Close()

	err := repl.Execute("help")
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.Contains(out.String(), "Bridge shell."), true)

	out.Reset()
	err = repl.Execute("frobnicate")
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.Contains(out.String(), "Invalid command"), true)

	err = repl.Execute("exit")
	assert.Equal(t, errors.Is(err, errExit), true)
}

func TestReplEvents(t *testing.T) {
	repl, out := newTestRepl(t, "")
	defer repl.Close()

	event := &bridge.Event{
		Topic:      bridge.JsonApiEventTopic,
		ChangeType: bridge.ChangeTypeUpdate,
		Uri:        "/lol-login/v1/session",
		Data:       []byte(`{"state":"SUCCEEDED"}`),
	}

	// off by default
	repl.onEvent(event)
	assert.Equal(t, out.String(), "")

	err := repl.Execute("events on")
	assert.Equal(t, err, nil)
	repl.onEvent(event)
	assert.Equal(t, strings.HasPrefix(out.String(), "===== API Event: Update /lol-login/v1/session\n"), true)

	out.Reset()
	err = repl.Execute("events off")
	assert.Equal(t, err, nil)
	repl.onEvent(event)
	assert.Equal(t, out.String(), "")
}

func TestReplListen(t *testing.T) {
	repl, _ := newTestRepl(t, "")
	defer repl.Close()

	key := bridge.JsonApiKey("/lol-perks/v1/pages")
	err := repl.Execute("listen OnJsonApiEvent-/lol-perks/v1/pages")
	assert.Equal(t, err, nil)
	assert.Equal(t, repl.bridge.Events.ListenerCount(key), 1)

	// listening twice keeps one listener
	err = repl.Execute("listen OnJsonApiEvent-/lol-perks/v1/pages")
	assert.Equal(t, err, nil)
	assert.Equal(t, repl.bridge.Events.ListenerCount(key), 1)

	err = repl.Execute("unlisten OnJsonApiEvent-/lol-perks/v1/pages")
	assert.Equal(t, err, nil)
	assert.Equal(t, repl.bridge.Events.ListenerCount(key), 0)
}

func TestReplRunUntilExit(t *testing.T) {
	repl, out := newTestRepl(t, "state\nexit\nstate\n")

	repl.Run()
	assert.Equal(t, strings.Count(out.String(), "transport: "), 1)
}
