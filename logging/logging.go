// Package logging builds the JSON loggers shared by the taskdesk binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxSizeMB  = 10
	maxBackups = 5
)

type Options struct {
	Service string
	Dir     string
	// File is the log file name inside Dir, e.g. shell.log.
	File  string
	Level string
	// Mirror, when set, receives every entry in addition to the file.
	Mirror io.Writer
}

// New returns a logger writing rotated JSON lines to Dir/File and the
// closer that releases the file.
func New(opts Options) (*log.Logger, io.Closer, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		lvl, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = lvl
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, opts.File),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	var out io.Writer = file
	if opts.Mirror != nil {
		out = io.MultiWriter(file, opts.Mirror)
	}

	logger := log.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(Formatter())
	if opts.Service != "" {
		logger.AddHook(serviceHook(opts.Service))
	}
	return logger, file, nil
}

// Formatter is the JSON layout used by every taskdesk log.
func Formatter() *log.JSONFormatter {
	return &log.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: log.FieldMap{
			log.FieldKeyTime:  "ts",
			log.FieldKeyLevel: "level",
			log.FieldKeyMsg:   "message",
		},
	}
}

type serviceHook string

func (serviceHook) Levels() []log.Level { return log.AllLevels }

func (h serviceHook) Fire(e *log.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = string(h)
	}
	return nil
}
