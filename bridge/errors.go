package bridge

import (
	"context"
	"errors"
	"fmt"
)

// An operation was attempted with no live transport. New work fails fast and is never queued.
var ErrNotConnected = errors.New("Not connected.")

// In-flight work was invalidated by a transport loss.
var ErrDisconnected = errors.New("Disconnected.")

// A per-call deadline passed before a response arrived.
var ErrTimeout = errors.New("Timeout.")

const (
	CodeNotConnected = "NotConnected"
	CodeDisconnected = "Disconnected"
	CodeTimeout      = "Timeout"
)

// RemoteError is a server reported CALLERROR. Code and description are opaque to the bridge.
type RemoteError struct {
	Code        string
	Description string
}

func (self *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", self.Code, self.Description)
}

// TransportError is a socket level failure. These are retried by the
// connection manager and are only ever logged.
type TransportError struct {
	Op  string
	Err error
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", self.Op, self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

// CacheLoadError means the disk cache and the live fetch both failed.
type CacheLoadError struct {
	Version  string
	DiskErr  error
	FetchErr error
}

func (self *CacheLoadError) Error() string {
	return fmt.Sprintf("data load for version %s failed: disk = %v, fetch = %v", self.Version, self.DiskErr, self.FetchErr)
}

func (self *CacheLoadError) Unwrap() []error {
	errs := []error{}
	if self.DiskErr != nil {
		errs = append(errs, self.DiskErr)
	}
	if self.FetchErr != nil {
		errs = append(errs, self.FetchErr)
	}
	return errs
}

// HttpError is a non-2xx response on the http side channel.
type HttpError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (self *HttpError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", self.Method, self.Path, self.StatusCode, string(self.Body))
}

// ErrorCode returns the wire style code for an error returned by the bridge.
func ErrorCode(err error) string {
	var remoteError *RemoteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &remoteError):
		return remoteError.Code
	case errors.Is(err, ErrNotConnected):
		return CodeNotConnected
	case errors.Is(err, ErrDisconnected):
		return CodeDisconnected
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return "Error"
	}
}

// IsTransient is true for errors that a retry after reconnect may resolve.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrDisconnected) || errors.Is(err, ErrTimeout)
}
