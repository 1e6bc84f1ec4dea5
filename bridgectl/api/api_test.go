package api

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"

	"github.com/lcubridge/lcubridge/bridge"
)

func init() {
	initGlog()
	gin.SetMode(gin.TestMode)
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func newTestApi(t *testing.T) *Api {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	settings := bridge.DefaultBridgeSettings()
	settings.CaptureSchema = false
	b := bridge.NewBridge(ctx, settings, bridge.NewDirSnapshotStore(t.TempDir()), nil)
	t.Cleanup(b.Close)
	return NewApi(b)
}

func TestStatus(t *testing.T) {
	router := newTestApi(t).Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, w.Code, http.StatusOK)

	var result StatusResult
	err := json.Unmarshal(w.Body.Bytes(), &result)
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Transport, "Disconnected")
	assert.Equal(t, result.Login, "Unknown")
	assert.Equal(t, result.PendingCalls, 0)
	assert.Equal(t, result.Lockfile, "")
	assert.Equal(t, result.DataVersion, "")
}

func TestCallNotConnected(t *testing.T) {
	router := newTestApi(t).Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/call",
		strings.NewReader(`{"function":"GET /lol-summoner/v1/current-summoner","args":[]}`),
	)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, w.Code, http.StatusServiceUnavailable)

	var result ErrorResult
	err := json.Unmarshal(w.Body.Bytes(), &result)
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Code, bridge.CodeNotConnected)
}

func TestCallBadRequest(t *testing.T) {
	router := newTestApi(t).Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(`{"args":[1]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestDataVersionNotConnected(t *testing.T) {
	router := newTestApi(t).Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/data/version", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, w.Code, http.StatusServiceUnavailable)
}

func TestApiOptions(t *testing.T) {
	_, err := StartApi(ApiOptions{}, func(err error) {})
	assert.NotEqual(t, err, nil)
}
