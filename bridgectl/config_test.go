package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlogForTest()
}

func initGlogForTest() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestParseConfig(t *testing.T) {
	config := DefaultConfig()
	err := ParseConfig([]byte(`
lockfile: /tmp/lockfile
data_dir: /tmp/gamedata
call_timeout: 5s
capture_schema: false
auto_login:
  username: user
  password: pass
plugins:
  autorunes:
    runes_dir: /tmp/runes
`), config)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Lockfile, "/tmp/lockfile")
	assert.Equal(t, config.DataDir, "/tmp/gamedata")
	assert.Equal(t, config.CallTimeout, 5*time.Second)
	assert.Equal(t, config.CaptureSchema, false)
	assert.Equal(t, config.AutoLogin.Username, "user")
	assert.Equal(t, config.AutoLogin.Password, "pass")
	assert.Equal(t, config.Plugins["autorunes"]["runes_dir"], "/tmp/runes")
	// unset keys keep their defaults
	assert.Equal(t, config.StatusAddr, "")
	assert.Equal(t, config.PrintEvents, false)
}

func TestParseConfigEmpty(t *testing.T) {
	config := DefaultConfig()
	err := ParseConfig([]byte{}, config)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.DataDir, "gamedata")
	assert.Equal(t, config.CaptureSchema, true)
	assert.NotEqual(t, config.Plugins, nil)
}

func TestParseConfigUnknownField(t *testing.T) {
	config := DefaultConfig()
	err := ParseConfig([]byte("lockfil: /tmp/lockfile\n"), config)
	assert.NotEqual(t, err, nil)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yml"))
	assert.NotEqual(t, err, nil)

	path := filepath.Join(dir, "bridgectl.yml")
	err = os.WriteFile(path, []byte("status_addr: 127.0.0.1:9090\nprint_events: true\n"), 0644)
	assert.Equal(t, err, nil)

	config, err := LoadConfig(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.StatusAddr, "127.0.0.1:9090")
	assert.Equal(t, config.PrintEvents, true)
}
