package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// EdgeLogger logs a keyed condition only when it changes. A poll loop that
// fails the same read every second logs the first failure and the recovery,
// not every repeat.
type EdgeLogger struct {
	mu    sync.Mutex
	state map[int]string
}

func NewEdgeLogger() *EdgeLogger {
	return &EdgeLogger{state: make(map[int]string)}
}

// Failed records a failure for key and logs it if the failure text differs
// from the last one recorded.
func (e *EdgeLogger) Failed(key int, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	e.mu.Lock()
	prev, seen := e.state[key]
	e.state[key] = msg
	e.mu.Unlock()
	if !seen || prev != msg {
		Logf("%s", msg)
	}
}

// Recovered clears key and logs the recovery if key was failing.
func (e *EdgeLogger) Recovered(key int, format string, v ...interface{}) {
	e.mu.Lock()
	_, seen := e.state[key]
	delete(e.state, key)
	e.mu.Unlock()
	if seen {
		Logf(format, v...)
	}
}
