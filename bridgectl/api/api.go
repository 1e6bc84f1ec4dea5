package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lcubridge/lcubridge/bridge"
)

type Api struct {
	server *http.Server
	bridge *bridge.Bridge
}

type ApiOptions struct {
	Addr   string
	Bridge *bridge.Bridge
}

func (o *ApiOptions) AreValid() error {
	if o.Addr == "" {
		return fmt.Errorf("address is required")
	}
	if o.Bridge == nil {
		return fmt.Errorf("bridge is required")
	}
	return nil
}

type StatusResult struct {
	Transport    string   `json:"transport"`
	Lockfile     string   `json:"lockfile,omitempty"`
	Login        string   `json:"login"`
	SessionState string   `json:"session_state,omitempty"`
	PendingCalls int      `json:"pending_calls"`
	Topics       []string `json:"topics"`
	DataVersion  string   `json:"data_version,omitempty"`
}

type CallArgs struct {
	Function string            `json:"function" binding:"required"`
	Args     []json.RawMessage `json:"args"`
}

type ErrorResult struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func StartApi(o ApiOptions, errorCallback func(err error)) (*Api, error) {
	if err := o.AreValid(); err != nil {
		return nil, fmt.Errorf("invalid API options: %w", err)
	}

	api := Api{
		bridge: o.Bridge,
	}

	// wrap Gin router in an HTTP server
	api.server = &http.Server{
		Addr:    o.Addr,
		Handler: api.Router(),
	}

	// start server in goroutine
	go func() {
		if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errorCallback(err)
			return
		}
	}()

	return &api, nil
}

func NewApi(b *bridge.Bridge) *Api {
	return &Api{
		bridge: b,
	}
}

func (a *Api) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	// connection, login and cache state
	router.GET("/status", func(c *gin.Context) { a.status(c) })
	// the running build version
	router.GET("/data/version", func(c *gin.Context) { a.dataVersion(c) })
	// a call on the socket
	router.POST("/call", func(c *gin.Context) { a.call(c) })
	return router
}

func (a *Api) StopApi() error {
	if a.server == nil {
		return nil
	}
	// try to shutdown the server gracefully (wait max 5 secs to finish pending requests)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.server = nil
	return nil
}

func (a *Api) status(context *gin.Context) {
	loginState := a.bridge.Login.State()
	result := &StatusResult{
		Transport:    a.bridge.Connection.State().String(),
		Login:        loginState.Status.String(),
		SessionState: loginState.SessionState,
		PendingCalls: a.bridge.Calls.PendingCount(),
		Topics:       a.bridge.Connection.Topics(),
	}
	if descriptor := a.bridge.Connection.Descriptor(); descriptor != nil {
		result.Lockfile = descriptor.String()
	}
	if snapshot := a.bridge.Data.Snapshot(); snapshot != nil {
		result.DataVersion = snapshot.BuildVersion
	}
	context.JSON(http.StatusOK, result)
}

func (a *Api) dataVersion(context *gin.Context) {
	version, err := a.bridge.Data.CurrentVersion(context.Request.Context())
	if err != nil {
		writeError(context, err)
		return
	}
	context.JSON(http.StatusOK, gin.H{"version": version})
}

func (a *Api) call(context *gin.Context) {
	var callArgs CallArgs
	if err := context.ShouldBindJSON(&callArgs); err != nil {
		context.JSON(http.StatusBadRequest, &ErrorResult{
			Code:        "BadRequest",
			Description: err.Error(),
		})
		return
	}
	args := make([]any, 0, len(callArgs.Args))
	for _, arg := range callArgs.Args {
		args = append(args, arg)
	}

	result, err := a.bridge.Call(context.Request.Context(), callArgs.Function, args...)
	if err != nil {
		writeError(context, err)
		return
	}
	context.Data(http.StatusOK, "application/json; charset=utf-8", result)
}

func writeError(context *gin.Context, err error) {
	code := bridge.ErrorCode(err)
	description := err.Error()
	var remoteError *bridge.RemoteError
	statusCode := http.StatusInternalServerError
	switch {
	case errors.As(err, &remoteError):
		description = remoteError.Description
		statusCode = http.StatusBadGateway
	case code == bridge.CodeNotConnected, code == bridge.CodeDisconnected:
		statusCode = http.StatusServiceUnavailable
	case code == bridge.CodeTimeout:
		statusCode = http.StatusGatewayTimeout
	}
	context.JSON(statusCode, &ErrorResult{
		Code:        code,
		Description: description,
	})
}
