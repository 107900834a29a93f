// Package obslog is the driver/infrastructure logger: tier-3 diagnostics
// (solver failures, recursion-budget exhaustion, worker-pool errors) and
// the -verbose per-step trace, both of which are structured, internal
// diagnostics rather than the CLI's required plain-text output (the
// output.log banner and "Data Race Found: {True|False}" verdict line
// stay on fmt.Fprintf, untouched by this package).
//
// Grounded on the level-checked-facade pattern in
// joeycumines-go-utilpkg/logiface: a Logger exposes one method per level,
// each of which first checks whether that level is enabled before doing
// any work, and returns a *Event builder that no-ops when disabled so a
// caller can chain field-setters unconditionally without paying for
// disabled levels. The concrete backend is github.com/rs/zerolog, the
// same backend the pack's logiface-zerolog adapter wraps.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the syslog-derived scale logiface.Level uses, trimmed to
// the levels this engine actually emits.
type Level int

const (
	LevelDisabled Level = iota - 1
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelTrace:
		return zerolog.TraceLevel
	default:
		return zerolog.Disabled
	}
}

// Logger wraps a zerolog.Logger behind the level-checked facade. The
// zero value discards everything.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger writing JSON lines to w at the given minimum
// level. Pass LevelDisabled to silence it entirely (the default CLI
// behavior absent -verbose).
func New(w io.Writer, level Level) Logger {
	if w == nil {
		w = io.Discard
	}
	z := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return Logger{z: z}
}

// NewConsole builds a Logger writing human-readable lines to stderr, for
// -verbose runs at a terminal.
func NewConsole(level Level) Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	z := zerolog.New(cw).Level(level.zerolog()).With().Timestamp().Logger()
	return Logger{z: z}
}

// Discard is a Logger that drops everything; the default until a caller
// opts into -verbose or a log file.
var Discard = Logger{z: zerolog.Nop()}

func (l Logger) Error() *Event { return l.event(zerolog.ErrorLevel) }
func (l Logger) Warn() *Event  { return l.event(zerolog.WarnLevel) }
func (l Logger) Info() *Event  { return l.event(zerolog.InfoLevel) }
func (l Logger) Debug() *Event { return l.event(zerolog.DebugLevel) }
func (l Logger) Trace() *Event { return l.event(zerolog.TraceLevel) }

func (l Logger) event(level zerolog.Level) *Event {
	ev := l.z.WithLevel(level)
	if ev == nil {
		return nil
	}
	return &Event{z: ev}
}

// Event is the per-log-call field builder. A disabled Event is nil;
// every method is safe to call on a nil receiver so callers can chain
// unconditionally:
//
//	log.Debug().Int("tid", tid).Str("op", instr.Op.String()).Msg("stepped")
type Event struct {
	z *zerolog.Event
}

func (e *Event) Str(key, val string) *Event {
	if e == nil {
		return nil
	}
	e.z.Str(key, val)
	return e
}

func (e *Event) Int(key string, val int) *Event {
	if e == nil {
		return nil
	}
	e.z.Int(key, val)
	return e
}

func (e *Event) Bool(key string, val bool) *Event {
	if e == nil {
		return nil
	}
	e.z.Bool(key, val)
	return e
}

func (e *Event) Dur(key string, val time.Duration) *Event {
	if e == nil {
		return nil
	}
	e.z.Dur(key, val)
	return e
}

func (e *Event) Err(err error) *Event {
	if e == nil {
		return nil
	}
	e.z.Err(err)
	return e
}

// Msg finalizes the event, writing it if enabled. A no-op on a disabled
// (nil) Event.
func (e *Event) Msg(msg string) {
	if e == nil {
		return
	}
	e.z.Msg(msg)
}
