// Package monitoring exposes a process-wide error reporter. The default is a
// no-op; cmd installs the Sentry implementation from infra/monitoring when a
// DSN is configured.
package monitoring

import "time"

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Recover()
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Recover()                                  {}
func (NopMonitor) Flush(time.Duration)                       {}

var current Monitor = NopMonitor{}

// Init sets the global monitor implementation. nil restores the no-op.
func Init(m Monitor) {
	if m == nil {
		m = NopMonitor{}
	}
	current = m
}

// Current returns the installed monitor.
func Current() Monitor { return current }

// CaptureException records the error with optional tags. nil errors are
// ignored.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	current.CaptureException(err, tags)
}

// Recover captures panics in goroutines. It must be deferred directly.
func Recover() { current.Recover() }

// Flush flushes buffered events.
func Flush(d time.Duration) { current.Flush(d) }
