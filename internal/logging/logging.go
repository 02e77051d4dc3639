// Package logging provides logger creation.
//
// Every logger returned routes its calls through a single per-provider sink,
// so providers only need to know how to write one message at one level.
package logging

import (
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"

	"github.com/dekarrin/jellog"
	"github.com/dekarrin/rowsync"
)

// New creates a new logger of the given provider. If filename is blank, it will
// not log to disk, only stderr, and the stderr logger will be configured at
// trace level instead of info level.
//
// component names the part of the program doing the logging. It is shown in
// every entry.
func New(p rowsync.LogProvider, component, filename string) (rowsync.Logger, error) {
	switch p {
	case rowsync.NoLog:
		return nil, errors.New("log provider cannot be NoLog")
	case rowsync.Jellog:
		j := jellog.New(jellog.Defaults[string]().WithComponent(component))

		if filename == "" {
			j.AddHandler(jellog.LvTrace, jellog.NewStderrHandler(nil))
		} else {
			fileOut, err := jellog.OpenFile(filename, nil)
			if err != nil {
				return nil, fmt.Errorf("open logfile: %q: %w", filename, err)
			}
			j.AddHandler(jellog.LvTrace, fileOut)
			j.AddHandler(jellog.LvInfo, jellog.NewStderrHandler(nil))
		}

		return leveled{sink: jellogSink{j: j}}, nil
	case rowsync.StdLog:
		var w io.Writer = os.Stderr
		if filename != "" {
			f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				return nil, fmt.Errorf("open logfile: %q: %w", filename, err)
			}
			w = io.MultiWriter(os.Stderr, f)
		}

		prefix := ""
		if component != "" {
			prefix = component + ": "
		}
		std := stdlog.New(w, prefix, stdlog.Ldate|stdlog.Ltime|stdlog.LUTC|stdlog.Lmsgprefix)
		return leveled{sink: stdSink{std: std}}, nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", p.String())
	}
}

// FromConfig creates the logger described by cfg. A NoOpLogger is returned if
// logging is not enabled.
func FromConfig(cfg rowsync.LogConfig, component string) (rowsync.Logger, error) {
	if !cfg.Enabled {
		return rowsync.NoOpLogger{}, nil
	}
	return New(cfg.Provider, component, cfg.File)
}

type level int

const (
	lvTrace level = iota
	lvDebug
	lvInfo
	lvWarn
	lvError
)

func (lv level) String() string {
	switch lv {
	case lvTrace:
		return "TRACE"
	case lvDebug:
		return "DEBUG"
	case lvInfo:
		return "INFO"
	case lvWarn:
		return "WARN"
	case lvError:
		return "ERROR"
	default:
		return fmt.Sprintf("level(%d)", int(lv))
	}
}

type sink interface {
	write(lv level, msg string)
	insertBreak(lv level)
}

// leveled is the rowsync.Logger given to callers.
type leveled struct {
	sink sink
}

func (log leveled) Trace(msg string)                    { log.sink.write(lvTrace, msg) }
func (log leveled) Debug(msg string)                    { log.sink.write(lvDebug, msg) }
func (log leveled) Info(msg string)                     { log.sink.write(lvInfo, msg) }
func (log leveled) Warn(msg string)                     { log.sink.write(lvWarn, msg) }
func (log leveled) Error(msg string)                    { log.sink.write(lvError, msg) }
func (log leveled) Tracef(msg string, a ...interface{}) { log.sink.write(lvTrace, fmt.Sprintf(msg, a...)) }
func (log leveled) Debugf(msg string, a ...interface{}) { log.sink.write(lvDebug, fmt.Sprintf(msg, a...)) }
func (log leveled) Infof(msg string, a ...interface{})  { log.sink.write(lvInfo, fmt.Sprintf(msg, a...)) }
func (log leveled) Warnf(msg string, a ...interface{})  { log.sink.write(lvWarn, fmt.Sprintf(msg, a...)) }
func (log leveled) Errorf(msg string, a ...interface{}) { log.sink.write(lvError, fmt.Sprintf(msg, a...)) }
func (log leveled) TraceBreak()                         { log.sink.insertBreak(lvTrace) }
func (log leveled) DebugBreak()                         { log.sink.insertBreak(lvDebug) }
func (log leveled) InfoBreak()                          { log.sink.insertBreak(lvInfo) }
func (log leveled) WarnBreak()                          { log.sink.insertBreak(lvWarn) }
func (log leveled) ErrorBreak()                         { log.sink.insertBreak(lvError) }

type stdSink struct {
	std *stdlog.Logger
}

func (s stdSink) write(lv level, msg string) {
	s.std.Printf("%-5s %s", lv.String(), msg)
}

func (s stdSink) insertBreak(lv level) {
	s.std.Writer().Write([]byte("\n"))
}

type jellogSink struct {
	j jellog.Logger[string]
}

func (s jellogSink) write(lv level, msg string) {
	switch lv {
	case lvTrace:
		s.j.Trace(msg)
	case lvDebug:
		s.j.Debug(msg)
	case lvInfo:
		s.j.Info(msg)
	case lvWarn:
		s.j.Warn(msg)
	default:
		s.j.Error(msg)
	}
}

func (s jellogSink) insertBreak(lv level) {
	switch lv {
	case lvTrace:
		s.j.InsertBreak(jellog.LvTrace)
	case lvDebug:
		s.j.InsertBreak(jellog.LvDebug)
	case lvInfo:
		s.j.InsertBreak(jellog.LvInfo)
	case lvWarn:
		s.j.InsertBreak(jellog.LvWarn)
	default:
		s.j.InsertBreak(jellog.LvError)
	}
}
