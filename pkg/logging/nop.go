package logging

import "io"

// nopLogger discards every entry. Used in tests and anywhere a component
// requires a Logger but the caller wants silence.
type nopLogger struct{}

// NewNopLogger returns a Logger that discards all entries.
func NewNopLogger() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}

func (n nopLogger) WithFields(...Field) Logger { return n }
func (nopLogger) SetLevel(Level)               {}
func (nopLogger) SetOutput(io.Writer)          {}
