package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/lcubridge/lcubridge/bridge"
	"github.com/lcubridge/lcubridge/bridgectl/api"
	"github.com/lcubridge/lcubridge/plugins"
	"github.com/lcubridge/lcubridge/runes"

	_ "github.com/lcubridge/lcubridge/plugins/autorunes"
)

const BridgeCtlVersion = "0.0.1"

func main() {
	usage := fmt.Sprintf(
		`Bridge control.

Usage:
    bridgectl run [--config=<config>] [--lockfile=<lockfile>] [--data_dir=<data_dir>]
        [--runes_dir=<runes_dir>]
        [--status_addr=<status_addr>]
        [--print_events]
        [--no_plugins]
        [--log=<log>]
    bridgectl parse-lockfile [--config=<config>] [--lockfile=<lockfile>]
    bridgectl compile-runes <page_file> --build=<build> [--config=<config>] [--data_dir=<data_dir>]
    bridgectl plugins

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --config=<config>            Config file [default: %s].
    --lockfile=<lockfile>        Lockfile of the client. Overrides the config.
    --data_dir=<data_dir>        Directory of cached game data by build. Overrides the config.
    --runes_dir=<runes_dir>      Directory of rune pages by champion name, for autorunes.
    --status_addr=<status_addr>  Serve the status api on this address.
    --print_events               Print every api event.
    --no_plugins                 Do not start plugins.
    --build=<build>              Build version of the cached data to compile with.
    --log=<log>                  Log verbosity, 0 to 2 [default: 0].`,
		DefaultConfigPath,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], BridgeCtlVersion)
	if err != nil {
		panic(err)
	}

	initGlog(opts)

	if run_, _ := opts.Bool("run"); run_ {
		run(opts)
	} else if parseLockfile_, _ := opts.Bool("parse-lockfile"); parseLockfile_ {
		parseLockfile(opts)
	} else if compileRunes_, _ := opts.Bool("compile-runes"); compileRunes_ {
		compileRunes(opts)
	} else if plugins_, _ := opts.Bool("plugins"); plugins_ {
		for _, name := range plugins.Registered() {
			fmt.Println(name)
		}
	} else {
		docopt.PrintHelpAndExit(nil, usage)
	}
}

func initGlog(opts docopt.Opts) {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	if log, err := opts.String("--log"); err == nil {
		flag.Set("v", log)
	} else {
		flag.Set("v", "0")
	}
}

// loadConfig applies command line overrides to the config file
func loadConfig(opts docopt.Opts) *Config {
	configPath, _ := opts.String("--config")
	config, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	if lockfile, err := opts.String("--lockfile"); err == nil {
		config.Lockfile = lockfile
	}
	if dataDir, err := opts.String("--data_dir"); err == nil {
		config.DataDir = dataDir
	}
	if statusAddr, err := opts.String("--status_addr"); err == nil {
		config.StatusAddr = statusAddr
	}
	if printEvents, _ := opts.Bool("--print_events"); printEvents {
		config.PrintEvents = true
	}
	if runesDir, err := opts.String("--runes_dir"); err == nil {
		options, ok := config.Plugins["autorunes"]
		if !ok || options == nil {
			options = plugins.Options{}
		}
		options["runes_dir"] = runesDir
		config.Plugins["autorunes"] = options
	}
	if noPlugins, _ := opts.Bool("--no_plugins"); noPlugins {
		config.Plugins = map[string]plugins.Options{}
	}
	return config
}

func run(opts docopt.Opts) {
	config := loadConfig(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// handle Ctrl+C for graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			glog.Infof("Exiting...\n")
			cancel()
			// the shell blocks on stdin
			os.Stdin.Close()
		case <-ctx.Done():
		}
	}()

	settings := bridge.DefaultBridgeSettings()
	settings.CallSettings.CallTimeout = config.CallTimeout
	settings.CaptureSchema = config.CaptureSchema
	b := bridge.NewBridge(ctx, settings, bridge.NewDirSnapshotStore(config.DataDir), config.AutoLogin)
	defer b.Close()

	runner, err := plugins.NewRunner(ctx, b, b.Connection, config.Plugins)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return
	}
	defer runner.Close()

	repl := NewRepl(ctx, b, os.Stdin, os.Stdout, int(syscall.Stdin))
	repl.SetPrintEvents(config.PrintEvents)

	if config.StatusAddr != "" {
		errorCallback := func(err error) {
			glog.Errorf("Error running API: %v\n", err)
		}
		statusApi, err := api.StartApi(api.ApiOptions{
			Addr:   config.StatusAddr,
			Bridge: b,
		}, errorCallback)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			return
		}
		defer statusApi.StopApi()
		glog.Infof("Status api on %s\n", config.StatusAddr)
	}

	watcher := bridge.NewLockfileWatcherWithDefaults(ctx, config.Lockfile, b)
	defer watcher.Close()

	repl.Run()
}

func parseLockfile(opts docopt.Opts) {
	config := loadConfig(opts)
	descriptor, err := bridge.ReadLockfile(config.Lockfile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n", descriptor)
}

func compileRunes(opts docopt.Opts) {
	config := loadConfig(opts)
	pageFile, _ := opts.String("<page_file>")
	build, _ := opts.String("--build")

	snapshot, err := bridge.NewDirSnapshotStore(config.DataDir).Load(build)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	compiler, err := runes.NewCompiler(snapshot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	source, err := runes.LoadPageSource(pageFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	page, err := compiler.Compile(source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	pageJson, _ := json.MarshalIndent(page, "", "  ")
	fmt.Printf("%s\n", pageJson)
}
