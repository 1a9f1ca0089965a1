// Package monitoring carries the diagnostic logger and run metrics shared by
// the detector packages and their collaborators.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Scheduler fault isolation and detector side
// effects report through it, so tests can capture or mute those reports.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Swap installs f as the logger and returns a func restoring the previous one.
//
//	defer monitoring.Swap(t.Logf)()
func Swap(f func(format string, v ...interface{})) (restore func()) {
	prev := Logf
	SetLogger(f)
	return func() { Logf = prev }
}
