package rowsync

import (
	"fmt"
	"strings"
)

// Logger writes leveled messages. Create one with the internal/logging
// package, or use NoOpLogger to discard everything.
//
// Each level has a plain method, a printf-style method ending in f, and a
// Break method that separates groups of entries. What a break looks like is up
// to the backing log; text logs write an empty line.
type Logger interface {
	Trace(string)
	Tracef(string, ...interface{})
	TraceBreak()

	Debug(string)
	Debugf(string, ...interface{})
	DebugBreak()

	Info(string)
	Infof(string, ...interface{})
	InfoBreak()

	Warn(string)
	Warnf(string, ...interface{})
	WarnBreak()

	Error(string)
	Errorf(string, ...interface{})
	ErrorBreak()
}

// LogProvider is the type of logger backing a Logger.
type LogProvider int

const (
	NoLog LogProvider = iota
	Jellog
	StdLog
)

func (p LogProvider) String() string {
	switch p {
	case NoLog:
		return "none"
	case Jellog:
		return "jellog"
	case StdLog:
		return "std"
	default:
		return fmt.Sprintf("LogProvider(%d)", int(p))
	}
}

// ParseLogProvider parses a string containing the name of a LogProvider. The
// empty string is parsed as NoLog.
func ParseLogProvider(s string) (LogProvider, error) {
	switch strings.ToLower(s) {
	case NoLog.String(), "":
		return NoLog, nil
	case Jellog.String():
		return Jellog, nil
	case StdLog.String():
		return StdLog, nil
	default:
		return NoLog, fmt.Errorf("unknown LogProvider %q", s)
	}
}

// NoOpLogger is a logger that performs no operations. It is used by components
// that are not given a Logger.
type NoOpLogger struct{}

func (log NoOpLogger) Debug(msg string)                    {}
func (log NoOpLogger) Warn(msg string)                     {}
func (log NoOpLogger) Trace(msg string)                    {}
func (log NoOpLogger) Info(msg string)                     {}
func (log NoOpLogger) Error(msg string)                    {}
func (log NoOpLogger) Debugf(msg string, a ...interface{}) {}
func (log NoOpLogger) Warnf(msg string, a ...interface{})  {}
func (log NoOpLogger) Tracef(msg string, a ...interface{}) {}
func (log NoOpLogger) Infof(msg string, a ...interface{})  {}
func (log NoOpLogger) Errorf(msg string, a ...interface{}) {}
func (log NoOpLogger) ErrorBreak()                         {}
func (log NoOpLogger) InfoBreak()                          {}
func (log NoOpLogger) WarnBreak()                          {}
func (log NoOpLogger) TraceBreak()                         {}
func (log NoOpLogger) DebugBreak()                         {}

// LoggerOrNoOp returns log, or a NoOpLogger if log is nil.
func LoggerOrNoOp(log Logger) Logger {
	if log == nil {
		return NoOpLogger{}
	}
	return log
}
