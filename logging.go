package reactor

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type used throughout the reactor,
// wired to github.com/joeycumines/logiface with the stumpy encoder as the
// default backend - the same combination demonstrated by
// logiface-stumpy's own example: stumpy.L.New(stumpy.L.WithStumpy(...)).
type Logger = logiface.Logger[*stumpy.Event]

// newDefaultLogger builds the package-default logger, writing
// newline-delimited JSON to os.Stderr (stumpy's default writer).
func newDefaultLogger() *Logger {
	return stumpy.L.New(stumpy.L.WithStumpy())
}

// noopLogger returns a logger with logging disabled entirely, for tests
// and embedders that don't want reactor internals on stderr.
func noopLogger() *Logger {
	return stumpy.L.New(stumpy.L.WithStumpy(), stumpy.L.WithLevel(logiface.LevelDisabled))
}
