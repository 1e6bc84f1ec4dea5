package bridge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

// ConnectionDescriptor locates the local api. It is published by the service
// in its lockfile when it starts and removed when it stops.
type ConnectionDescriptor struct {
	ProcessName string
	Pid         int
	Port        int
	Password    string
	// http or https
	Scheme string
}

func (self *ConnectionDescriptor) String() string {
	// the password is never logged
	return fmt.Sprintf("%s://127.0.0.1:%d (%s %d)", self.Scheme, self.Port, self.ProcessName, self.Pid)
}

func (self *ConnectionDescriptor) Equal(b *ConnectionDescriptor) bool {
	if self == nil || b == nil {
		return self == b
	}
	return *self == *b
}

// ParseLockfile parses `name:pid:port:password:scheme`
func ParseLockfile(content string) (*ConnectionDescriptor, error) {
	parts := strings.Split(strings.TrimSpace(content), ":")
	if len(parts) != 5 {
		return nil, fmt.Errorf("Lockfile must have 5 fields (%d).", len(parts))
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("Lockfile pid: %w", err)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("Lockfile port: %w", err)
	}
	if port <= 0 || 65535 < port {
		return nil, fmt.Errorf("Lockfile port out of range: %d", port)
	}
	scheme := parts[4]
	switch scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("Lockfile scheme must be http or https: %s", scheme)
	}
	return &ConnectionDescriptor{
		ProcessName: parts[0],
		Pid:         pid,
		Port:        port,
		Password:    parts[3],
		Scheme:      scheme,
	}, nil
}

func ReadLockfile(path string) (*ConnectionDescriptor, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseLockfile(string(content))
}

func DefaultLockfilePath() string {
	switch runtime.GOOS {
	case "windows":
		return `C:\Riot Games\League of Legends\lockfile`
	case "darwin":
		return "/Applications/League of Legends.app/Contents/LoL/lockfile"
	default:
		return "lockfile"
	}
}

// DescriptorListener receives descriptor appearance and loss.
// `ConnectionManager` is the production listener.
type DescriptorListener interface {
	Connect(descriptor *ConnectionDescriptor)
	Disconnect()
}

type LockfileWatcherSettings struct {
	PollInterval time.Duration
	Clock        Clock
}

func DefaultLockfileWatcherSettings() *LockfileWatcherSettings {
	return &LockfileWatcherSettings{
		PollInterval: 1 * time.Second,
		Clock:        RealClock(),
	}
}

// LockfileWatcher polls a lockfile and reports changes to a listener.
// An unreadable or partially written lockfile keeps the last state until the next poll.
type LockfileWatcher struct {
	ctx    context.Context
	cancel context.CancelFunc

	path     string
	listener DescriptorListener
	settings *LockfileWatcherSettings
}

func NewLockfileWatcherWithDefaults(ctx context.Context, path string, listener DescriptorListener) *LockfileWatcher {
	return NewLockfileWatcher(ctx, path, listener, DefaultLockfileWatcherSettings())
}

func NewLockfileWatcher(
	ctx context.Context,
	path string,
	listener DescriptorListener,
	settings *LockfileWatcherSettings,
) *LockfileWatcher {
	cancelCtx, cancel := context.WithCancel(ctx)
	watcher := &LockfileWatcher{
		ctx:      cancelCtx,
		cancel:   cancel,
		path:     path,
		listener: listener,
		settings: settings,
	}
	go watcher.run()
	return watcher
}

func (self *LockfileWatcher) run() {
	defer self.cancel()

	var current *ConnectionDescriptor
	for {
		descriptor, err := ReadLockfile(self.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if current != nil {
				glog.Infof("[l]lockfile removed %s\n", self.path)
				current = nil
				self.listener.Disconnect()
			}
		case err != nil:
			// possibly partially written. Read again on the next poll.
			glog.V(1).Infof("[l]read %s = %s\n", self.path, err)
		case !descriptor.Equal(current):
			glog.Infof("[l]lockfile found %s\n", descriptor)
			current = descriptor
			self.listener.Connect(descriptor)
		}

		select {
		case <-self.ctx.Done():
			if current != nil {
				self.listener.Disconnect()
			}
			return
		case <-self.settings.Clock.After(self.settings.PollInterval):
		}
	}
}

func (self *LockfileWatcher) Close() {
	self.cancel()
}
