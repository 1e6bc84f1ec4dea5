package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lcubridge/lcubridge/bridge"
	"github.com/lcubridge/lcubridge/plugins"
)

const DefaultConfigPath = "bridgectl.yml"

// Config is the bridgectl config file. Command line options override it.
//
//	lockfile: /Applications/League of Legends.app/Contents/LoL/lockfile
//	data_dir: gamedata
//	status_addr: 127.0.0.1:9090
//	call_timeout: 30s
//	auto_login:
//	  username: user
//	  password: pass
//	plugins:
//	  autorunes:
//	    runes_dir: runes
type Config struct {
	Lockfile      string                     `yaml:"lockfile"`
	DataDir       string                     `yaml:"data_dir"`
	StatusAddr    string                     `yaml:"status_addr"`
	CallTimeout   time.Duration              `yaml:"call_timeout"`
	CaptureSchema bool                       `yaml:"capture_schema"`
	PrintEvents   bool                       `yaml:"print_events"`
	AutoLogin     *bridge.LoginCredentials   `yaml:"auto_login"`
	Plugins       map[string]plugins.Options `yaml:"plugins"`
}

func DefaultConfig() *Config {
	return &Config{
		Lockfile:      bridge.DefaultLockfilePath(),
		DataDir:       "gamedata",
		CallTimeout:   bridge.DefaultCallSettings().CallTimeout,
		CaptureSchema: true,
		Plugins:       map[string]plugins.Options{},
	}
}

// LoadConfig reads the config at `path` over the defaults.
// A missing file at the default path is not an error.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == DefaultConfigPath {
			return config, nil
		}
		return nil, err
	}
	if err := ParseConfig(b, config); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

func ParseConfig(b []byte, config *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(b))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if config.Plugins == nil {
		config.Plugins = map[string]plugins.Options{}
	}
	return nil
}
