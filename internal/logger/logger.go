package logger

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the constructors the CLI needs
type Logger struct {
	zerolog.Logger
}

// New creates a logger on stderr, human readable when attached to a terminal.
// Stdout is left to command results.
func New() *Logger {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return NewWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	return NewWriter(os.Stderr)
}

// NewWriter creates a new logger that writes to the provided writer
func NewWriter(w io.Writer) *Logger {
	return &Logger{
		Logger: zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Logger(),
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// SetOutput sets the output destination for the logger
func (l *Logger) SetOutput(w io.Writer) {
	l.Logger = l.Logger.Output(w)
}

// SetVerbose switches between debug and info level
func (l *Logger) SetVerbose(verbose bool) {
	if verbose {
		l.Logger = l.Logger.Level(zerolog.DebugLevel)
		return
	}
	l.Logger = l.Logger.Level(zerolog.InfoLevel)
}
