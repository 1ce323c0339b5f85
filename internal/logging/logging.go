// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level  string
	Format string // console or json
	// File, when set, receives a JSON copy of every entry, rotated by size.
	File string
	Out  io.Writer
}

// New returns a logger and a closer for the rotated file, if any. The standard library
// logger is redirected so third-party packages end up in the same stream.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("parse log level: %w", err)
		}
		level = l
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()

	log.SetFlags(0)
	log.SetOutput(logger)

	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
