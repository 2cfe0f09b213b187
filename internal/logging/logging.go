// Package logging provides a small prefixed wrapper around the standard
// library logger, one per component, matching the "Component: message"
// style used throughout this codebase's ambient stack.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Logger prefixes every line with a component name.
type Logger struct {
	prefix string
	std    *log.Logger
}

// New returns a Logger that writes to stderr with the given component name
// as prefix, e.g. New("dispatch") logs as "dispatch: datagram too short".
func New(component string) *Logger {
	return &Logger{
		prefix: component,
		std:    log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf("%s: %s", l.prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Println(args ...any) {
	l.std.Println(append([]any{l.prefix + ":"}, args...)...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.Printf("warning: "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.Printf("error: "+format, args...)
}
