package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog.Logger together with the writer it owns.
type Logger struct {
	zerolog.Logger
	closer io.Closer
}

// Options controls where and how log lines are written.
type Options struct {
	Level  string
	Pretty bool
	// Output is one of stdout, stderr or file.
	Output string
	// File is the log file path used when Output is "file".
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New returns a stdout logger with the given level.
func New(level string, pretty bool) *Logger {
	return NewWithOptions(Options{Level: level, Pretty: pretty, Output: "stdout"})
}

// NewWithOptions builds a logger. Unknown levels fall back to info.
func NewWithOptions(opts Options) *Logger {
	var (
		w      io.Writer
		closer io.Closer
	)

	switch strings.ToLower(strings.TrimSpace(opts.Output)) {
	case "stderr":
		w = os.Stderr
	case "file":
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   opts.Compress,
		}
		w = lj
		closer = lj
	default:
		w = os.Stdout
	}

	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Logger{Logger: zl, closer: closer}
}

// Close releases the underlying file writer, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
