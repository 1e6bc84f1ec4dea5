package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/lcubridge/lcubridge/bridge"
)

func init() {
	initGlog()
	Register(countingName, func(options Options) (Plugin, error) {
		return &countingPlugin{option: options["option"]}, nil
	})
	Register(flakyName, func(options Options) (Plugin, error) {
		return &flakyPlugin{}, nil
	})
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

const countingName = "counting"

var countingStarts atomic.Int32

type countingPlugin struct {
	option string
}

func (self *countingPlugin) Name() string {
	return countingName
}

func (self *countingPlugin) Start(ctx context.Context, host Host) error {
	countingStarts.Add(1)
	return host.WaitForLogin(ctx)
}

const flakyName = "flaky"

// flakyPlugin loses the connection on its first start
type flakyPlugin struct {
	starts atomic.Int32
}

func (self *flakyPlugin) Name() string {
	return flakyName
}

func (self *flakyPlugin) Start(ctx context.Context, host Host) error {
	if self.starts.Add(1) == 1 {
		return bridge.ErrDisconnected
	}
	return nil
}

// failingPlugin has a start error that a reconnect does not resolve
type failingPlugin struct {
	starts atomic.Int32
}

func (self *failingPlugin) Name() string {
	return "failing"
}

func (self *failingPlugin) Start(ctx context.Context, host Host) error {
	self.starts.Add(1)
	return errors.New("No rune page.")
}

type testHost struct{}

func (self *testHost) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	return nil, bridge.ErrNotConnected
}

func (self *testHost) Subscribe(key bridge.EventKey, callback bridge.EventFunction) func() {
	return func() {}
}

func (self *testHost) WaitForLogin(ctx context.Context) error {
	return nil
}

func (self *testHost) CurrentData(ctx context.Context) (*bridge.DataSnapshot, error) {
	return nil, bridge.ErrNotConnected
}

type testNotifier struct {
	mutex     sync.Mutex
	callbacks []bridge.ConnectFunction
}

func (self *testNotifier) AddConnectCallback(callback bridge.ConnectFunction) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.callbacks = append(self.callbacks, callback)
	return func() {}
}

func (self *testNotifier) AddDisconnectCallback(callback bridge.DisconnectFunction) func() {
	return func() {}
}

func (self *testNotifier) connect() {
	self.mutex.Lock()
	callbacks := self.callbacks
	self.mutex.Unlock()
	for _, callback := range callbacks {
		callback()
	}
}

func TestRunnerStartsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := &testNotifier{}
	runner, err := NewRunner(ctx, &testHost{}, notifier, map[string]Options{
		countingName: {"option": "a"},
	})
	assert.Equal(t, err, nil)
	defer runner.Close()

	assert.Equal(t, len(runner.Plugins()), 1)
	assert.Equal(t, runner.Plugins()[0].(*countingPlugin).option, "a")

	start := countingStarts.Load()
	notifier.connect()
	notifier.connect()
	// the connect callback starts asynchronously
	time.Sleep(50 * time.Millisecond)
	runner.Start()
	runner.Wait()
	assert.Equal(t, countingStarts.Load()-start, int32(1))
}

func TestUnknownPlugin(t *testing.T) {
	_, err := NewRunner(context.Background(), &testHost{}, &testNotifier{}, map[string]Options{
		"missing": nil,
	})
	assert.Equal(t, err.Error(), "Unknown plugin: missing")

	assert.Equal(t, Registered(), []string{countingName, flakyName})
}

func waitForStarts(runner *Runner) {
	// the connect callback starts asynchronously
	time.Sleep(50 * time.Millisecond)
	runner.Wait()
}

func TestRunnerRestartsAfterTransientError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := &testNotifier{}
	runner, err := NewRunner(ctx, &testHost{}, notifier, map[string]Options{
		flakyName: nil,
	})
	assert.Equal(t, err, nil)
	defer runner.Close()
	plugin := runner.Plugins()[0].(*flakyPlugin)

	notifier.connect()
	waitForStarts(runner)
	assert.Equal(t, plugin.starts.Load(), int32(1))

	notifier.connect()
	waitForStarts(runner)
	assert.Equal(t, plugin.starts.Load(), int32(2))

	// started
	notifier.connect()
	waitForStarts(runner)
	assert.Equal(t, plugin.starts.Load(), int32(2))
}

func TestRunnerKeepsFailedPlugin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := &testNotifier{}
	runner, err := NewRunner(ctx, &testHost{}, notifier, map[string]Options{})
	assert.Equal(t, err, nil)
	defer runner.Close()

	plugin := &failingPlugin{}
	runner.plugins = []Plugin{plugin}
	runner.startStates = make([]startState, 1)

	notifier.connect()
	waitForStarts(runner)
	notifier.connect()
	waitForStarts(runner)
	assert.Equal(t, plugin.starts.Load(), int32(1))
}
