// Package plog wraps charmbracelet/log with the per-component sub-loggers
// and throttled diagnostics Pierre's components share.
package plog

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// root is the process-wide structured logger. Components should call
// With to get a named sub-logger rather than logging through the root.
var root = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      time.RFC3339,
})

// SetLevel adjusts the root log level; called once at startup from config.
func SetLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	root.SetLevel(lvl)
}

// With returns a component-scoped logger, e.g. With("rtsp") or
// With("scheduler").
func With(component string) *log.Logger {
	return root.With("component", component)
}

// throttle de-dupes repeated log keys so a storm of identical per-frame
// failures (DecipherFailure, Outdated, ...) doesn't spam the console;
// each distinct key logs once per interval.
type throttle struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

var t = &throttle{seen: make(map[string]time.Time)}

// Every reports whether key is due to log again, given interval since its
// last occurrence. First occurrence of a key always fires.
func Every(key string, interval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	last, ok := t.seen[key]
	if ok && now.Sub(last) < interval {
		return false
	}
	t.seen[key] = now
	return true
}
