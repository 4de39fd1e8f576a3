// Package logging configures the logrus logger shared by the tool.
package logging

import (
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

// Options selects the level and an optional rotating log file
type Options struct {
	Level      string
	File       string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
}

// New returns a logger writing to stderr, or to a rotating file when
// opts.File is set
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.InfoLevel
	if opts.Level != "" {
		l, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}
	log.SetLevel(level)

	var out io.Writer = os.Stderr
	if opts.File != "" {
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSize,
			MaxAge:     opts.MaxAge,
			MaxBackups: opts.MaxBackups,
		}
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	log.SetOutput(out)
	return log, nil
}

// Discard returns a logger that drops everything, for tests
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
