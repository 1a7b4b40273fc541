// Package logger builds the process-wide zerolog logger.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const permission = 0o664

// Builder collects the logger destination before Make is called.
type Builder struct {
	writer io.Writer
	path   string
	level  zerolog.Level
	set    bool
}

// Logger is a built logger plus the file it may own.
type Logger struct {
	zerolog.Logger
	file *os.File
}

func New() *Builder {
	return &Builder{}
}

// FromPath appends JSON lines to the file at path.
func (b *Builder) FromPath(path string) *Builder {
	b.path = path
	return b
}

// FromBuffer writes to w. A path, when also set, wins.
func (b *Builder) FromBuffer(w io.Writer) *Builder {
	b.writer = w
	return b
}

func (b *Builder) WithLevel(level zerolog.Level) *Builder {
	b.level = level
	b.set = true
	return b
}

func (b *Builder) Make() (*Logger, error) {
	l := &Logger{}
	w := b.writer
	if w == nil {
		w = os.Stdout
	}
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		l.file = f
		w = zerolog.SyncWriter(f)
	}

	zl := zerolog.New(w).With().Timestamp().Logger()
	if b.set {
		zl = zl.Level(b.level)
	}
	l.Logger = zl
	return l, nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
