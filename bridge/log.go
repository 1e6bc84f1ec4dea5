package bridge

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `bridge` package:
// Info:
//     abnormal events. This level should be silent on normal operation,
//     with the exception of one time (infrequent) lifecycle events
//     this includes:
//     - lockfile appear/disappear and socket open/close
//     - socket dial errors before a retry
//     - persistence errors for the data cache
// Error:
//     unrecoverable crash details
//     this includes:
//     - panics in listeners and plugins, even if recovered
// V(1):
//     key state transitions with ids that can be used to filter
// V(2):
//     per frame trace (send, receive, correlate, dispatch)

const LogLevelInfo glog.Level = 0
const LogLevelLifecycle glog.Level = 1
const LogLevelTrace glog.Level = 2

type LogFunction func(string, ...any)

// LogFn logs `[tag]message` at the given verbosity.
func LogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("[%s]%s", tag, m))
		}
	}
}

func SubLogFn(log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		m := fmt.Sprintf(format, a...)
		log("%s: %s", tag, m)
	}
}
