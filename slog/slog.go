// Package slog is the stack's one logging choke point. It forwards to
// glog's leveled verbosity the way the teacher's internal syslog package
// forwards InfoTf/WarningTf/ErrorTf calls tagged with an interface name,
// but is backed by the real OSS dependency (github.com/golang/glog)
// already present in the teacher's go.mod rather than a Fuchsia-only
// internal package.
package slog

import "github.com/golang/glog"

// Trace level for parse-level RX errors that spec.md §7 says must be
// "silently dropped ... with a debug trace — never surfaced".
const traceLevel = glog.Level(2)

// Tag prefixes a log line with an interface or socket identifier, mirroring
// the teacher's "[[" + name + "]] " prefix convention in its syslog calls.
type Tag string

func (t Tag) Tracef(format string, args ...any) {
	if glog.V(traceLevel) {
		glog.Infof(string(t)+": "+format, args...)
	}
}

func (t Tag) Infof(format string, args ...any) {
	glog.Infof(string(t)+": "+format, args...)
}

func (t Tag) Warningf(format string, args ...any) {
	glog.Warningf(string(t)+": "+format, args...)
}

func (t Tag) Errorf(format string, args ...any) {
	glog.Errorf(string(t)+": "+format, args...)
}

// Tracef logs a debug-only trace, used for parse-level RX drops (spec.md
// §7) that are never surfaced to the caller.
func Tracef(format string, args ...any) {
	if glog.V(traceLevel) {
		glog.Infof(format, args...)
	}
}

func Infof(format string, args ...any)    { glog.Infof(format, args...) }
func Warningf(format string, args ...any) { glog.Warningf(format, args...) }
func Errorf(format string, args ...any)   { glog.Errorf(format, args...) }
