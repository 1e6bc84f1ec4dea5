package plugins

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/lcubridge/lcubridge/bridge"
)

// Host is what a plugin may use of the bridge. `*bridge.Bridge` is the production host.
type Host interface {
	bridge.Caller
	Subscribe(key bridge.EventKey, callback bridge.EventFunction) func()
	WaitForLogin(ctx context.Context) error
	CurrentData(ctx context.Context) (*bridge.DataSnapshot, error)
}

type Plugin interface {
	Name() string
	// Start subscribes and seeds plugin state. Subscriptions end with `ctx`.
	Start(ctx context.Context, host Host) error
}

type Options map[string]string

type Factory func(options Options) (Plugin, error)

var pluginLog = bridge.LogFn(bridge.LogLevelInfo, "p")

var registryLock sync.Mutex
var registry = map[string]Factory{}

// Register makes a plugin available by name. Plugin packages register in `init`.
func Register(name string, factory Factory) {
	registryLock.Lock()
	defer registryLock.Unlock()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("Plugin %s registered twice.", name))
	}
	registry[name] = factory
}

func Registered() []string {
	registryLock.Lock()
	defer registryLock.Unlock()
	names := maps.Keys(registry)
	slices.Sort(names)
	return names
}

func New(name string, options Options) (Plugin, error) {
	registryLock.Lock()
	factory, ok := registry[name]
	registryLock.Unlock()
	if !ok {
		return nil, fmt.Errorf("Unknown plugin: %s", name)
	}
	if options == nil {
		options = Options{}
	}
	return factory(options)
}

type startState int

const (
	startIdle startState = iota
	startRunning
	startDone
	// a start error that a reconnect does not resolve
	startFailed
)

// Runner starts the configured plugins on connect. A plugin starts once,
// unless its start fails with a transient error (e.g. the connection dropped
// while it waited for login). Then it starts again on the next connect.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc

	host    Host
	plugins []Plugin

	stateLock   sync.Mutex
	startStates []startState
	connects    uint64

	started sync.WaitGroup
	unsub   func()
}

func NewRunner(
	ctx context.Context,
	host Host,
	notifier bridge.ConnectionNotifier,
	configs map[string]Options,
) (*Runner, error) {
	names := maps.Keys(configs)
	slices.Sort(names)

	plugins := []Plugin{}
	for _, name := range names {
		plugin, err := New(name, configs[name])
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, plugin)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	runner := &Runner{
		ctx:         cancelCtx,
		cancel:      cancel,
		host:        host,
		plugins:     plugins,
		startStates: make([]startState, len(plugins)),
	}
	// connect callbacks must not block
	runner.unsub = notifier.AddConnectCallback(func() {
		runner.stateLock.Lock()
		runner.connects += 1
		runner.stateLock.Unlock()
		go runner.Start()
	})
	return runner, nil
}

func (self *Runner) Plugins() []Plugin {
	return self.plugins
}

// Start starts every plugin that is not running, not started and not failed, concurrently.
func (self *Runner) Start() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for i, plugin := range self.plugins {
		if self.startStates[i] != startIdle {
			continue
		}
		self.startStates[i] = startRunning
		self.started.Add(1)
		go self.start(i, plugin, self.connects)
	}
}

func (self *Runner) start(i int, plugin Plugin, connects uint64) {
	defer self.started.Done()
	log := bridge.SubLogFn(pluginLog, plugin.Name())

	var err error
	bridge.HandleError(func() {
		err = plugin.Start(self.ctx, self.host)
	}, func(panicErr error) {
		err = panicErr
	})

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	switch {
	case err == nil:
		self.startStates[i] = startDone
		log("started")
	case self.ctx.Err() == nil && bridge.IsTransient(err):
		self.startStates[i] = startIdle
		log("start error = %s (retry on connect)", err)
		if connects != self.connects {
			// a connect happened while this start ran
			go self.Start()
		}
	default:
		self.startStates[i] = startFailed
		log("start error = %s", err)
	}
}

// Wait blocks until every plugin start returned
func (self *Runner) Wait() {
	self.started.Wait()
}

func (self *Runner) Close() {
	self.unsub()
	self.cancel()
}
