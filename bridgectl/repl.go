package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/mattn/go-shellwords"

	"golang.org/x/term"

	"github.com/lcubridge/lcubridge/bridge"
)

const replUsage = `Bridge shell.

Usage:
    bridge request <method> <path> [<body>]
    bridge call <function> [<arg>...]
    bridge events (on|off)
    bridge listen <key>
    bridge unlisten <key>
    bridge state
    bridge data
    bridge login [<username>]
    bridge exit

Options:
    -h --help     Show this screen.

Request bodies and call arguments are parsed as json when valid, otherwise sent as strings.
Event keys are "*", a topic, or "<topic>-<uri>", e.g. "OnJsonApiEvent-/lol-perks/v1/pages".
`

var errExit = errors.New("Exit.")

// Repl is the interactive shell over a bridge
type Repl struct {
	ctx    context.Context
	bridge *bridge.Bridge
	in     *bufio.Reader
	// the input is a terminal, so show a prompt and read passwords without echo
	interactive bool
	stdinFd     int

	outLock sync.Mutex
	out     io.Writer

	printEvents atomic.Bool

	listenersLock sync.Mutex
	listeners     map[bridge.EventKey]func()

	parser *docopt.Parser

	unsubs []func()
}

func NewRepl(ctx context.Context, b *bridge.Bridge, in io.Reader, out io.Writer, stdinFd int) *Repl {
	repl := &Repl{
		ctx:         ctx,
		bridge:      b,
		in:          bufio.NewReader(in),
		interactive: 0 <= stdinFd && term.IsTerminal(stdinFd),
		stdinFd:     stdinFd,
		out:         out,
		listeners:   map[bridge.EventKey]func(){},
	}
	repl.parser = &docopt.Parser{
		HelpHandler: func(err error, usage string) {
			if err == nil {
				repl.println(usage)
			} else {
				repl.println("Invalid command or arguments. Use 'help' for usage.")
			}
		},
	}
	repl.unsubs = []func(){
		b.Connection.AddConnectCallback(func() {
			repl.println("WebSocket events connected")
		}),
		b.Connection.AddDisconnectCallback(func() {
			repl.println("WebSocket events disconnected")
		}),
		b.Subscribe(bridge.TopicKey(bridge.JsonApiEventTopic), repl.onEvent),
	}
	return repl
}

func (self *Repl) SetPrintEvents(printEvents bool) {
	self.printEvents.Store(printEvents)
}

func (self *Repl) println(lines ...string) {
	self.outLock.Lock()
	defer self.outLock.Unlock()
	for _, line := range lines {
		fmt.Fprintln(self.out, line)
	}
}

func (self *Repl) prompt() {
	if !self.interactive {
		return
	}
	self.outLock.Lock()
	defer self.outLock.Unlock()
	fmt.Fprint(self.out, "> ")
}

// Run reads commands until the input ends, `exit`, or the context is done.
func (self *Repl) Run() {
	defer self.Close()

	for {
		if self.ctx.Err() != nil {
			return
		}
		self.prompt()

		line, readErr := self.in.ReadString('\n')
		if err := self.Execute(line); errors.Is(err, errExit) {
			return
		} else if err != nil {
			self.println(err.Error())
		}
		if readErr != nil {
			return
		}
	}
}

// Execute runs one command line
func (self *Repl) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	// enables quotation marks
	args, err := shellwords.Parse(line)
	if err != nil {
		return err
	}
	if args[0] == "help" {
		args = []string{"--help"}
	}

	opts, err := self.parser.ParseArgs(replUsage, args, "")
	if err != nil {
		// the help handler has already printed
		return nil
	}

	if request_, _ := opts.Bool("request"); request_ {
		return self.request(opts)
	} else if call_, _ := opts.Bool("call"); call_ {
		return self.call(opts)
	} else if events_, _ := opts.Bool("events"); events_ {
		on, _ := opts.Bool("on")
		self.SetPrintEvents(on)
		return nil
	} else if listen_, _ := opts.Bool("listen"); listen_ {
		key, _ := opts.String("<key>")
		self.listen(bridge.ParseEventKey(key))
		return nil
	} else if unlisten_, _ := opts.Bool("unlisten"); unlisten_ {
		key, _ := opts.String("<key>")
		self.unlisten(bridge.ParseEventKey(key))
		return nil
	} else if state_, _ := opts.Bool("state"); state_ {
		self.state()
		return nil
	} else if data_, _ := opts.Bool("data"); data_ {
		return self.data()
	} else if login_, _ := opts.Bool("login"); login_ {
		return self.login(opts)
	} else if exit_, _ := opts.Bool("exit"); exit_ {
		return errExit
	}
	return nil
}

// parseValue reads json, falling back to the raw string
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return json.RawMessage(s)
	}
	return s
}

func indentJson(b []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "  "); err != nil {
		return string(b)
	}
	return out.String()
}

func (self *Repl) request(opts docopt.Opts) error {
	method, _ := opts.String("<method>")
	path, _ := opts.String("<path>")
	options := &bridge.RequestOptions{
		AllowErrorStatus: true,
	}
	if body, err := opts.String("<body>"); err == nil {
		switch v := parseValue(body).(type) {
		case json.RawMessage:
			options.Body = v
		case string:
			options.Body = v
		}
	}

	response, err := self.bridge.Request(self.ctx, method, path, options)
	if err != nil {
		return err
	}

	lines := []string{
		fmt.Sprintf("===== HTTP Response: %s %s", response.Method, response.Path),
		fmt.Sprintf("%s %s", response.Proto, response.Status),
	}
	headers := []string{}
	for header, values := range response.Header {
		headers = append(headers, fmt.Sprintf("%s: %s", strings.ToLower(header), strings.Join(values, ", ")))
	}
	sort.Strings(headers)
	lines = append(lines, headers...)
	lines = append(lines, "", indentJson(response.Body), "")
	self.println(lines...)
	return nil
}

func (self *Repl) call(opts docopt.Opts) error {
	function, _ := opts.String("<function>")
	args := []any{}
	if argStrs, ok := opts["<arg>"].([]string); ok {
		for _, argStr := range argStrs {
			args = append(args, parseValue(argStr))
		}
	}

	result, err := self.bridge.Call(self.ctx, function, args...)
	if err != nil {
		var remoteError *bridge.RemoteError
		description := err.Error()
		if errors.As(err, &remoteError) {
			description = remoteError.Description
		}
		self.println(
			fmt.Sprintf("===== WAMP Error: %s", function),
			fmt.Sprintf("%s: %s", bridge.ErrorCode(err), description),
			"",
		)
		return nil
	}
	self.println(
		fmt.Sprintf("===== WAMP Response: %s", function),
		indentJson(result),
		"",
	)
	return nil
}

// EventFunction
func (self *Repl) onEvent(event *bridge.Event) {
	if !self.printEvents.Load() {
		return
	}
	self.println(
		fmt.Sprintf("===== API Event: %s %s", event.ChangeType, event.Uri),
		indentJson(event.Data),
		"",
	)
}

func (self *Repl) listen(key bridge.EventKey) {
	self.listenersLock.Lock()
	defer self.listenersLock.Unlock()
	if _, ok := self.listeners[key]; ok {
		return
	}
	self.listeners[key] = self.bridge.Subscribe(key, func(event *bridge.Event) {
		self.println(
			fmt.Sprintf("===== %s: %s %s", key, event.ChangeType, event.Uri),
			indentJson(event.Data),
			"",
		)
	})
}

func (self *Repl) unlisten(key bridge.EventKey) {
	self.listenersLock.Lock()
	defer self.listenersLock.Unlock()
	if unsub, ok := self.listeners[key]; ok {
		unsub()
		delete(self.listeners, key)
	}
}

func (self *Repl) state() {
	lines := []string{
		fmt.Sprintf("transport: %s", self.bridge.Connection.State()),
	}
	if descriptor := self.bridge.Connection.Descriptor(); descriptor != nil {
		lines = append(lines, fmt.Sprintf("lockfile: %s", descriptor))
	}
	loginState := self.bridge.Login.State()
	lines = append(lines,
		fmt.Sprintf("login: %s %s", loginState.Status, loginState.SessionState),
		fmt.Sprintf("pending calls: %d", self.bridge.Calls.PendingCount()),
		fmt.Sprintf("topics: %s", strings.Join(self.bridge.Connection.Topics(), ", ")),
	)
	if snapshot := self.bridge.Data.Snapshot(); snapshot != nil {
		lines = append(lines, fmt.Sprintf("data: %s", snapshot.BuildVersion))
	}
	self.println(lines...)
}

func (self *Repl) data() error {
	snapshot, err := self.bridge.CurrentData(self.ctx)
	if err != nil {
		return err
	}
	champions, err := snapshot.ChampionList()
	if err != nil {
		return err
	}
	perks, err := snapshot.PerkList()
	if err != nil {
		return err
	}
	perkStyles, err := snapshot.PerkStyleList()
	if err != nil {
		return err
	}
	self.println(
		fmt.Sprintf("version: %s", snapshot.BuildVersion),
		fmt.Sprintf("champions: %d", len(champions)),
		fmt.Sprintf("perks: %d", len(perks)),
		fmt.Sprintf("perk styles: %d", len(perkStyles)),
	)
	return nil
}

func (self *Repl) readPassword() (string, error) {
	if self.interactive {
		self.outLock.Lock()
		fmt.Fprint(self.out, "Enter password: ")
		self.outLock.Unlock()
		passwordBytes, err := term.ReadPassword(self.stdinFd)
		self.println("")
		if err != nil {
			return "", err
		}
		return string(passwordBytes), nil
	}
	line, err := self.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (self *Repl) login(opts docopt.Opts) error {
	if username, err := opts.String("<username>"); err == nil {
		password, err := self.readPassword()
		if err != nil {
			return err
		}
		self.bridge.Login.SetCredentials(&bridge.LoginCredentials{
			Username: username,
			Password: password,
		})
	}

	ctx, cancel := context.WithTimeout(self.ctx, 60*time.Second)
	defer cancel()
	if err := self.bridge.WaitForLogin(ctx); err != nil {
		return err
	}
	loginState := self.bridge.Login.State()
	self.println(fmt.Sprintf("Logged in (%s)", loginState.SessionState))
	return nil
}

func (self *Repl) Close() {
	for _, unsub := range self.unsubs {
		unsub()
	}
	self.listenersLock.Lock()
	defer self.listenersLock.Unlock()
	for key, unsub := range self.listeners {
		unsub()
		delete(self.listeners, key)
	}
}
