// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ternarybob/arbor"
)

// SafeGo runs a function in a goroutine with panic recovery.
// Panics are logged but don't crash the process.
//
// Example:
//
//	common.SafeGo(logger, "status-server", func() {
//	    srv.Start()
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer RecoverAndLog(logger, name)
		fn()
	}()
}

// RecoverAndLog is the deferred half of SafeGo, usable on its own around a single unit of work.
// It returns nothing; callers that need to know about the panic use CapturePanic.
func RecoverAndLog(logger arbor.ILogger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// CapturePanic runs fn and converts a panic into an error
func CapturePanic(logger arbor.ILogger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(logger, name, r)
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn()
}

func logPanic(logger arbor.ILogger, name string, r interface{}) {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	stackTrace := string(buf[:n])

	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic - continuing operation")
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
}
