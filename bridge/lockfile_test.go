package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestParseLockfile(t *testing.T) {
	descriptor, err := ParseLockfile("LeagueClient:1234:12345:abc:https\n")
	assert.Equal(t, err, nil)
	assert.Equal(t, descriptor, &ConnectionDescriptor{
		ProcessName: "LeagueClient",
		Pid:         1234,
		Port:        12345,
		Password:    "abc",
		Scheme:      "https",
	})
	// never log the password
	assert.Equal(t, descriptor.String(), "https://127.0.0.1:12345 (LeagueClient 1234)")

	for _, content := range []string{
		"",
		"LeagueClient:1234:12345:abc",
		"LeagueClient:x:12345:abc:https",
		"LeagueClient:1234:0:abc:https",
		"LeagueClient:1234:70000:abc:https",
		"LeagueClient:1234:12345:abc:ftp",
	} {
		_, err := ParseLockfile(content)
		assert.NotEqual(t, err, nil)
	}
}

type descriptorChange struct {
	descriptor *ConnectionDescriptor
}

type testDescriptorListener struct {
	changes chan descriptorChange
}

func (self *testDescriptorListener) Connect(descriptor *ConnectionDescriptor) {
	self.changes <- descriptorChange{descriptor}
}

func (self *testDescriptorListener) Disconnect() {
	self.changes <- descriptorChange{nil}
}

func (self *testDescriptorListener) next(t *testing.T) *ConnectionDescriptor {
	select {
	case change := <-self.changes:
		return change.descriptor
	case <-time.After(5 * time.Second):
		t.Fatal("No descriptor change.")
		return nil
	}
}

func TestLockfileWatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "lockfile")
	listener := &testDescriptorListener{
		changes: make(chan descriptorChange, 16),
	}
	settings := DefaultLockfileWatcherSettings()
	settings.PollInterval = 10 * time.Millisecond
	watcher := NewLockfileWatcher(ctx, path, listener, settings)
	defer watcher.Close()

	assert.Equal(t, os.WriteFile(path, []byte("LeagueClient:1:12345:abc:https"), 0644), nil)
	descriptor := listener.next(t)
	assert.Equal(t, descriptor.Port, 12345)

	assert.Equal(t, os.WriteFile(path, []byte("LeagueClient:2:23456:def:https"), 0644), nil)
	descriptor = listener.next(t)
	assert.Equal(t, descriptor.Port, 23456)
	assert.Equal(t, descriptor.Password, "def")

	assert.Equal(t, os.Remove(path), nil)
	assert.Equal(t, listener.next(t) == nil, true)

	// no further changes while absent
	select {
	case change := <-listener.changes:
		t.Fatalf("Unexpected change %v.", change.descriptor)
	case <-time.After(50 * time.Millisecond):
	}
}
