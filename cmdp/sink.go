package cmdp

import (
	"fmt"
	"runtime"
	"time"

	"github.com/constellation-daq/constellation-core/logging"
)

// SinkManager owns the CMDP publisher and the console level floor, and hands
// out per-logger Sinks whose effective verbosity is min(console_level,
// cmdp_level). Grounded on SinkManager.cpp's updateCMDPLevels,
// reworked from a push model (the C++ singleton recomputes and notifies every
// registered logger) into a pull model (each Sink call queries the shared
// levelTable directly) since Go has no process-wide logger registry to push to.
type SinkManager struct {
	publisher    *Publisher
	consoleLevel Level
}

// NewSinkManager wraps publisher with a fixed console floor.
func NewSinkManager(publisher *Publisher, consoleLevel Level) *SinkManager {
	return &SinkManager{publisher: publisher, consoleLevel: consoleLevel}
}

// NewLogger returns a logging.Logger named name that writes to console and,
// independently, publishes to CMDP whenever some subscriber's effective
// level for this logger admits the record.
func (sm *SinkManager) NewLogger(name string, console logging.Logger) logging.Logger {
	if console == nil {
		console = logging.Noop()
	}
	return &Sink{name: name, console: console, manager: sm}
}

// Sink is a logging.Logger that fans every record out to a console logger
// and, filtered by subscription level, to the CMDP publisher.
type Sink struct {
	name    string
	console logging.Logger
	manager *SinkManager
}

func (s *Sink) Debug(msg string, kv ...any) { s.log(DEBUG, msg, kv...) }
func (s *Sink) Info(msg string, kv ...any)  { s.log(INFO, msg, kv...) }
func (s *Sink) Warn(msg string, kv ...any)  { s.log(WARNING, msg, kv...) }
func (s *Sink) Error(msg string, kv ...any) { s.log(CRITICAL, msg, kv...) }

// Trace logs at CMDP's most verbose level, which log/slog has no equivalent
// for; it is routed to the console logger's Debug.
func (s *Sink) Trace(msg string, kv ...any) { s.log(TRACE, msg, kv...) }

func (s *Sink) log(level Level, msg string, kv ...any) {
	cmdpLevel := s.manager.publisher.Levels().EffectiveLevel(s.name)
	effective := cmdpLevel
	if s.manager.consoleLevel < effective {
		effective = s.manager.consoleLevel
	}
	if level < effective {
		return
	}

	if level >= s.manager.consoleLevel {
		s.consoleLog(level, msg, kv...)
	}
	if level >= cmdpLevel {
		var thread int64
		var file, funcName string
		var line int
		if level == TRACE {
			thread = int64(runtimeGoroutineID())
			if pc, f, l, ok := runtime.Caller(2); ok {
				file, line = f, l
				if fn := runtime.FuncForPC(pc); fn != nil {
					funcName = fn.Name()
				}
			}
		}
		record := NewLogMessage(s.name, level, s.name, msg+formatKV(kv), thread, file, line, funcName)
		record.Time = time.Now().UTC()
		s.manager.publisher.Publish(record)
	}
}

func (s *Sink) consoleLog(level Level, msg string, kv ...any) {
	switch {
	case level >= CRITICAL:
		s.console.Error(msg, kv...)
	case level >= WARNING:
		s.console.Warn(msg, kv...)
	case level >= INFO:
		s.console.Info(msg, kv...)
	default:
		s.console.Debug(msg, kv...)
	}
}

// runtimeGoroutineID has no stable Go equivalent to a C++ thread id; it
// returns 0, leaving the "thread" tag present but uninformative rather than
// absent, since the tag is required to be carried at TRACE.
func runtimeGoroutineID() int { return 0 }

func formatKV(kv []any) string {
	if len(kv) == 0 {
		return ""
	}
	out := " {"
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			out += ", "
		}
		out += toString(kv[i]) + "=" + toString(kv[i+1])
	}
	return out + "}"
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprint(t)
	}
}
