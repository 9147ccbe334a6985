package server

import (
	"fmt"
	"log"
	"os"
)

// Logger is the logging surface the core calls on the Server, so call
// sites read the same whether talking to the default stdlib-backed
// implementation or a test double.
type Logger interface {
	Noticef(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Tracef(format string, v ...interface{})
}

// stdLogger is the default Logger, writing to a stdlib *log.Logger.
// Debugf/Tracef are gated behind the debug/trace flags and off by
// default.
type stdLogger struct {
	l     *log.Logger
	debug bool
	trace bool
}

// NewStdLogger builds the default Logger, writing to stderr with a
// microsecond timestamp prefix.
func NewStdLogger(debug, trace bool) Logger {
	return &stdLogger{
		l:     log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
		debug: debug,
		trace: trace || debug,
	}
}

func (s *stdLogger) Noticef(format string, v ...interface{}) { s.l.Output(2, "[INF] "+fmt.Sprintf(format, v...)) }
func (s *stdLogger) Warnf(format string, v ...interface{})   { s.l.Output(2, "[WRN] "+fmt.Sprintf(format, v...)) }
func (s *stdLogger) Errorf(format string, v ...interface{})  { s.l.Output(2, "[ERR] "+fmt.Sprintf(format, v...)) }
func (s *stdLogger) Fatalf(format string, v ...interface{}) {
	s.l.Output(2, "[FTL] "+fmt.Sprintf(format, v...))
	os.Exit(1)
}
func (s *stdLogger) Debugf(format string, v ...interface{}) {
	if s.debug {
		s.l.Output(2, "[DBG] "+fmt.Sprintf(format, v...))
	}
}
func (s *stdLogger) Tracef(format string, v ...interface{}) {
	if s.trace {
		s.l.Output(2, "[TRC] "+fmt.Sprintf(format, v...))
	}
}

// NoOpLogger discards everything; handy for tests that don't want
// stderr noise.
type NoOpLogger struct{}

func (NoOpLogger) Noticef(string, ...interface{}) {}
func (NoOpLogger) Warnf(string, ...interface{})   {}
func (NoOpLogger) Errorf(string, ...interface{})  {}
func (NoOpLogger) Fatalf(string, ...interface{})  {}
func (NoOpLogger) Debugf(string, ...interface{})  {}
func (NoOpLogger) Tracef(string, ...interface{})  {}
