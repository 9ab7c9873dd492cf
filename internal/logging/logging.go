// Package logging provides the single logger every package in this
// module writes through. It wraps the standard library's log.Logger,
// the same choice the rest of this codebase's domain (go-fuse, gcsfuse)
// makes for its own core loops rather than reaching for a structured
// logging library.
package logging

import (
	"io"
	"log"
	"os"
)

var std = log.New(io.Discard, "", log.LstdFlags|log.Lmicroseconds)

// Configure points the package logger at w. Passing a nil writer or one
// that compares equal to io.Discard turns logging off; this is how
// debug output is toggled without a dependency on a flag package.
func Configure(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	std.SetOutput(w)
}

// Open resolves the logfile configuration option (§6/§12 of
// SPEC_FULL.md) to a writer and configures the package logger with it.
// "stdout" and "stderr" are recognized specially; anything else is
// opened as a path, created if missing. An empty name disables logging.
func Open(name string) (io.Closer, error) {
	switch name {
	case "":
		Configure(nil)
		return nil, nil
	case "stdout":
		Configure(os.Stdout)
		return nil, nil
	case "stderr":
		Configure(os.Stderr)
		return nil, nil
	}
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	Configure(f)
	return f, nil
}

func Infof(format string, args ...interface{})  { std.Printf("INFO "+format, args...) }
func Errorf(format string, args ...interface{}) { std.Printf("ERROR "+format, args...) }
func Debugf(format string, args ...interface{}) { std.Printf("DEBUG "+format, args...) }

// Logger exposes the package logger through the fuse.Logger interface,
// so a caller building a fuse.Server can hand it a logger without this
// package importing fuse.
type Logger struct{}

func (Logger) Println(v ...interface{})               { std.Println(v...) }
func (Logger) Printf(format string, v ...interface{})  { std.Printf(format, v...) }
